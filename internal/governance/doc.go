// Package governance holds caller-side safety controls layered over the secure
// client: a retry policy that classifies the client's rejection variants and a
// consecutive-failure circuit breaker.
//
// Neither control is applied inside the request pipeline. Callers wrap a client
// call with them explicitly.
package governance
