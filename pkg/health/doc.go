// Package health provides HTTPChecker, a reusable HTTP-based health check
// with configurable method, headers, status range, and timeout. It is the
// client shape pkg/svcclient's control-interface client is grounded on, and
// is also used directly by that client's Probe method.
package health
