// Package network brings an NB-IoT modem onto the network and opens the
// default datagram socket.
//
// Initialisation resets the modem through its reset line, waits until it
// answers AT again, configures error reporting and automatic attach, then
// polls the EPS registration status until the modem is registered. A short
// settle delay follows before the default socket is created.
package network
