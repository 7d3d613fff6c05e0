// Package protocol defines the wire format spoken between pirates and the
// game server: one self-contained JSON record per message, newline-delimited
// for stream framing.
//
// Exactly six message kinds exist. Decoding validates structure only (the
// kind is known, required fields are present and correctly typed, the payload
// is a mapping) and reports ErrMalformedMessage on any violation. What to do
// with a malformed message (ignore it or drop the connection) is the
// caller's decision.
package protocol
