// Package cli provides the interactive gophauth command-line client.
//
// It wires configuration, the HTTP API client and an interactive REPL that
// tracks server reachability in the background. Typical flow: register,
// log in with password and one-time code, then inspect the session.
//
// Key features:
//   - Register
//   - Login (password, then OTP prompt pre-filled when the server echoes it)
//   - WhoAmI / Logout
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher, and runREPL for details.
package cli
