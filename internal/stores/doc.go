// Package stores provides durable backends for MFA enrollments and custom
// roles: Redis (go-redis, cluster-safe hash tags) and SQLite (modernc driver
// with golang-migrate schema management).
//
// # Design
//
// Enrollment records and their backup code digests are written together so a
// reader never sees a secret paired with a stale digest set. Backup code
// consumption is a single conditional delete (SREM or DELETE ... WHERE) whose
// affected count tells exactly one caller that it won.
//
// # Architecture boundaries
//
// This package owns persistence only. It does not verify codes, evaluate
// permissions or emit audit events; those belong to the mfa and rbac packages
// and the root engine.
//
// # What this package must NOT do
//
//   - Import goTrust or any sibling internal package.
//   - Store plaintext backup codes.
//   - Log secrets.
package stores
