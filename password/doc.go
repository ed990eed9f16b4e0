// Package password verifies password credentials against argon2id PHC strings.
//
// Password policy and credential storage belong to the identity store; this
// package only hashes and compares. Inputs are used byte for byte with no
// Unicode normalization.
package password
