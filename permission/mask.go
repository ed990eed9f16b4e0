package permission

import "math/bits"

// Mask is a 128-bit permission set. The zero value is empty. Methods return
// new values, so masks can be shared between goroutines freely.
type Mask struct {
	A uint64
	B uint64
}

// Has reports whether bit is set.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	if bit < 64 {
		return m.A&(1<<bit) != 0
	}
	return m.B&(1<<(bit-64)) != 0
}

// Set returns m with bit set.
func (m Mask) Set(bit int) Mask {
	if bit < 0 || bit >= MaxBits {
		return m
	}
	if bit < 64 {
		m.A |= 1 << bit
	} else {
		m.B |= 1 << (bit - 64)
	}
	return m
}

// Clear returns m with bit cleared.
func (m Mask) Clear(bit int) Mask {
	if bit < 0 || bit >= MaxBits {
		return m
	}
	if bit < 64 {
		m.A &^= 1 << bit
	} else {
		m.B &^= 1 << (bit - 64)
	}
	return m
}

// Union returns the bits set in m or o.
func (m Mask) Union(o Mask) Mask {
	return Mask{A: m.A | o.A, B: m.B | o.B}
}

// Intersect returns the bits set in both m and o.
func (m Mask) Intersect(o Mask) Mask {
	return Mask{A: m.A & o.A, B: m.B & o.B}
}

// ContainsAll reports whether every bit of o is set in m.
func (m Mask) ContainsAll(o Mask) bool {
	return m.A&o.A == o.A && m.B&o.B == o.B
}

// ContainsAny reports whether m and o share a bit.
func (m Mask) ContainsAny(o Mask) bool {
	return m.A&o.A != 0 || m.B&o.B != 0
}

// IsZero reports whether no bit is set.
func (m Mask) IsZero() bool {
	return m.A == 0 && m.B == 0
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	return bits.OnesCount64(m.A) + bits.OnesCount64(m.B)
}
