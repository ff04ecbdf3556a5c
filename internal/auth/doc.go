// Package auth verifies bearer tokens and carries the resulting identity.
//
// Token issuance lives outside this server. The Verifier interface is the
// seam for a real identity provider; StaticVerifier serves deployments that
// configure a fixed token list.
//
// # Roles
//
//   - viewer: observe only
//   - operator, admin: observe and dispatch commands
//   - executor: connect as a host daemon
//   - service, admin: publish domain events through the ingest API
package auth
