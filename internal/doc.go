// Package internal holds helpers private to goTrust.
//
// # Sub-packages
//
//   - keylock: per-principal mutexes serializing enrollment transitions
//   - stores: Redis and SQLite backends for enrollments and custom roles
package internal
