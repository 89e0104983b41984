// Package domain defines the core request pipeline types shared by the client,
// the transport adapter and the monitoring interceptors.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. All types in this package are:
//
// - Independent of transport (no net/http types leak through RequestConfig or Response)
// - Free of crypto or telemetry concerns
// - Testable in isolation without mocks
//
// Other packages (client, transport, envelope, monitoring, etc.) implement or consume
// the interfaces defined here. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
