// Package goTrust is the authentication-trust engine: TOTP second factor with
// single-use backup codes, role-based access control and signed bearer tokens.
//
// Identity is established elsewhere. The engine consumes a verified identity
// and produces a token, and consumes a token and produces an authorization
// decision. [Engine] methods are safe for concurrent use after [Builder.Build].
//
// # Layout
//
// The root package wires the subsystems and owns audit, metrics and logging.
// The subsystems live in their own packages and can be used directly:
//
//   - totp: RFC 6238 codes and provisioning URIs.
//   - backup: recovery code generation and digests.
//   - mfa: the per-principal enrollment state machine and its Store.
//   - rbac: system and custom roles compiled to permission masks.
//   - token: HMAC JWT issue and verify.
//   - enforce: deny-by-default requirement checks.
//   - middleware: net/http adapters over Engine.
//
// Enrollments and custom roles are kept in memory unless the builder is given
// a Redis client ([Builder.WithRedis]) or Config.Store selects the redis or
// sqlite backend.
package goTrust
