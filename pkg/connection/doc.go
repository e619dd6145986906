// Package connection keeps the device reachable by the platform.
//
// A Watchdog periodically pings the platform with an empty confirmable CoAP
// message and escalates on failure:
//
//	index 0: healthy, long interval (default 5 min)
//	index 1..n-1: consecutive failures, short intervals (default 1 min)
//	index n: network re-initialisation, index back to 0
//
// A successful ping resets the index to 0. Every check pushes the next one
// out by a random jitter.
//
// # Re-initialisation
//
// Network initialisation is retried a bounded number of times with a short
// delay between attempts. When every attempt fails, ErrNetworkUnrecoverable
// is returned. That is the one error a host is expected to act on, usually
// by power cycling the device.
package connection
