// Package envelope frames request bodies into signed, encrypted envelopes and
// unframes encrypted responses.
//
// The actual primitives live behind Provider. The package owns only envelope
// construction and parsing plus nonce generation; the integrity control is the
// provider's signature over ciphertext and timestamp, not the nonce.
package envelope
