// Package coap implements the CoAP layer that runs over the modem's datagram
// socket.
//
// Encoding and decoding use go-coap's UDP coder. On top of that the package
// provides message ID allocation, random tokens, a duplicate-suppression
// window and an Endpoint that auto-acknowledges confirmable messages and
// probes liveness with CoAP ping.
package coap
