// Package tls builds the outbound TLS configuration of the secure client: a
// private CA bundle, an optional client certificate and public key pinning.
//
// Pins are base64 SHA-256 digests of a certificate's SubjectPublicKeyInfo. A
// connection is accepted when any certificate in the verified peer chain matches
// any pin.
package tls
