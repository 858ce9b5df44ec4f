// Package protocol owns the frame-update wire contract.
//
// Ownership boundary:
// - frame: fixed 8-byte header, packet types, ACK/NAK replies, tile bands
// - receiver: chunked packet assembly and payload buffer ownership
//
// Byte order is little-endian for every multi-byte field on the wire.
package protocol
