// Package middleware adapts goTrust.Engine to net/http.
//
// [Authenticate] reads the bearer token, verifies it and resolves the
// principal into the request context. The Require* guards check that
// principal against a requirement and answer 401 or 403 on denial, with an
// RFC 6750 WWW-Authenticate header.
//
// Guards never decide anything themselves; every verdict comes from the Engine,
// so denials are audited and counted the same way as direct calls.
package middleware
