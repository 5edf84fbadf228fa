// Package httpmw holds the HTTP middleware shared by the API and ops
// listeners: request IDs, client IP resolution, access logging, panic
// recovery, body limits, security headers and trace annotation.
//
// Middleware here is transport plumbing only; authentication and
// rate limiting live in their own packages and compose through the
// same func(http.Handler) http.Handler shape.
package httpmw
