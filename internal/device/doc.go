// Package device turns received packets into frame buffer updates.
//
// Ownership boundary:
// - drives the packet receiver with transport chunks
// - dispatches completed packets by type onto the panel frame buffer
// - decides ACK or NAK and resets the receiver after every packet
package device
