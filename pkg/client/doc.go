// Package client is the entry point of the secure request pipeline.
//
// A Client resolves each request against its base URL and default headers,
// optionally seals the body in a signed encrypted envelope, runs the request
// interceptors in registration order, and hands the finalized config to exactly
// one transport call. Successful responses carrying an envelope are opened before
// they are returned. Failures are always a *domain.TransportError or a
// *domain.HTTPStatusError, unless they happen before the network is reached.
package client
