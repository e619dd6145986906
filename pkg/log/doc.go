// Package log captures protocol traffic of the NB-IoT stack for offline
// analysis.
//
// Capture is separate from operational logging (slog). Every layer records
// typed events through a Logger:
//   - Serial: AT command lines and framed modem responses (CommandEvent)
//   - Datagram: UDP payloads sent or drained from the modem (DatagramEvent)
//   - CoAP: decoded PDUs (MessageEvent) and ACK/RST/ping control traffic
//   - Things: correlated platform events and RPC handling (PlatformEvent)
//
// State changes and errors have their own event types. Components stamp
// events through a Recorder carrying the current session ID, which changes
// each time the network is brought up.
//
// A device usually writes a rotating capture file and, while debugging,
// mirrors events to its slog output:
//
//	fl, err := log.NewFileLoggerWithConfig("/var/log/things/device.cbor",
//	    log.FileLoggerConfig{MaxSize: 8 << 20})
//	if err != nil {
//	    return err
//	}
//	capture := log.Combine(fl, log.NewSlogAdapter(logger))
//
// # File Format
//
// Capture files are concatenated CBOR records with integer keys.
// Reader streams them back with an optional Filter; the things-log tool
// views, filters, exports and summarises them.
package log
