// Package httpmw provides HTTP middleware for the preview server.
//
// The chain is assembled in preview.NewHandler: security headers, recovery,
// request ID, tracing, trace response headers, metrics, request logger, and
// the chi router with route annotation and access logging inside it.
//
// Query strings and user agents are kept out of the access log.
package httpmw
