// Package protocol implements the framed request/response protocol spoken
// over the archsensed control socket.
//
// Every message is a frame: a 4-byte big-endian payload length followed by
// a JSON payload of at most MaxPayload bytes. Requests carry a version, a
// command tag and tag-specific arguments. Each request yields exactly one
// response.
package protocol
