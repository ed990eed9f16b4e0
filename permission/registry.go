package permission

import (
	"errors"
	"sync"
)

// MaxBits is the number of distinct permissions a Registry can hold.
const MaxBits = 128

var (
	// ErrFrozen is returned when registering after Freeze.
	ErrFrozen = errors.New("permission registry frozen")
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("permission already registered")
	// ErrLimit is returned when MaxBits names are already registered.
	ErrLimit = errors.New("permission limit exceeded")
)

// Registry maps permission names to bit positions within a Mask.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName []string
	frozen    bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
	}
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrFrozen
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrDuplicate
	}

	next := len(r.bitToName)
	if next >= MaxBits {
		return -1, ErrLimit
	}
	r.nameToBit[name] = next
	r.bitToName = append(r.bitToName, name)
	return next, nil
}

// Bit returns the bit index for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the name registered at bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.bitToName) {
		return "", false
	}
	return r.bitToName[bit], true
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Count returns the number of registered names.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bitToName)
}

// All returns a mask with every registered bit set.
func (r *Registry) All() Mask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var m Mask
	for bit := range r.bitToName {
		m = m.Set(bit)
	}
	return m
}

// MaskOf builds a mask from names. Unknown names are reported in the second
// return value and left out of the mask.
func (r *Registry) MaskOf(names ...string) (Mask, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		m       Mask
		unknown []string
	)
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		m = m.Set(bit)
	}
	return m, unknown
}

// Names lists the names set in m in bit order.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, m.Count())
	for bit, name := range r.bitToName {
		if m.Has(bit) {
			out = append(out, name)
		}
	}
	return out
}
