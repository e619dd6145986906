// Package modem drives a Quectel BC95 NB-IoT modem over its AT command
// interface.
//
// The package is layered bottom-up:
//
//   - FrameReader turns the serial byte stream into classified response
//     records (\r\n<payload>\r\n).
//   - Modem issues AT commands and interprets their responses.
//   - The socket operations (CreateSocket, SendTo, Receive, CloseSocket) map
//     UDP onto the hex-encoded NSOCR/NSOST/NSORF/NSOCL commands.
//
// Nothing in this package retries. A failed transaction is reported to the
// caller, which decides whether to try again on a later tick.
package modem
