// Package client contains the transport layer of the gophauth CLI.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface):
//     Register, Login, VerifyOTP, Me and Ping.
//  2. A concrete HTTP+JSON implementation (see HTTPClient) built on
//     netx.DoJSON that maps response statuses to sentinel errors.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match with
// errors.Is: ErrUnavailable (network failure), ErrInvalidInput (400),
// ErrUnauthorized (401), ErrAlreadyExists (409) and ErrServer (5xx).
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation/timeouts.
package client
