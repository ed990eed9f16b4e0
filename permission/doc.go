// Package permission provides a name-to-bit registry and a fixed 128-bit mask
// used to evaluate permission sets without allocation.
//
// Bit positions are assigned by [Registry.Register] in registration order and
// are stable for the lifetime of the process. They are never persisted; stores
// keep permission names.
//
// This package does no I/O and imports nothing from the rest of the module.
package permission
