package permission

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAssignsSequentialBits(t *testing.T) {
	r := NewRegistry()
	for i, name := range []string{"a", "b", "c"} {
		bit, err := r.Register(name)
		require.NoError(t, err)
		require.Equal(t, i, bit)
	}
	bit, ok := r.Bit("b")
	require.True(t, ok)
	require.Equal(t, 1, bit)

	name, ok := r.Name(2)
	require.True(t, ok)
	require.Equal(t, "c", name)

	_, ok = r.Name(3)
	require.False(t, ok)
	require.Equal(t, 3, r.Count())
}

func TestRegistryRejects(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("")
	require.Error(t, err)

	_, err = r.Register("a")
	require.NoError(t, err)
	_, err = r.Register("a")
	require.ErrorIs(t, err, ErrDuplicate)

	r.Freeze()
	_, err = r.Register("b")
	require.ErrorIs(t, err, ErrFrozen)
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < MaxBits; i++ {
		_, err := r.Register(fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	_, err := r.Register("overflow")
	require.ErrorIs(t, err, ErrLimit)
	require.Equal(t, MaxBits, r.All().Count())
}

func TestMaskOfAndNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"read", "write", "delete"} {
		_, err := r.Register(name)
		require.NoError(t, err)
	}

	m, unknown := r.MaskOf("delete", "read", "fly")
	require.Equal(t, []string{"fly"}, unknown)
	require.Equal(t, []string{"read", "delete"}, r.Names(m))
	require.Equal(t, 2, m.Count())
}

func TestMaskOperations(t *testing.T) {
	var m Mask
	require.True(t, m.IsZero())

	m = m.Set(3).Set(70).Set(127)
	require.True(t, m.Has(3))
	require.True(t, m.Has(70))
	require.True(t, m.Has(127))
	require.False(t, m.Has(4))
	require.False(t, m.Has(-1))
	require.False(t, m.Has(128))
	require.Equal(t, 3, m.Count())

	cleared := m.Clear(70)
	require.False(t, cleared.Has(70))
	require.True(t, m.Has(70))

	other := Mask{}.Set(3).Set(5)
	require.Equal(t, 4, m.Union(other).Count())
	require.Equal(t, Mask{}.Set(3), m.Intersect(other))
	require.True(t, m.ContainsAny(other))
	require.False(t, m.ContainsAll(other))
	require.True(t, m.Union(other).ContainsAll(other))
	require.True(t, m.ContainsAll(Mask{}))
	require.False(t, m.ContainsAny(Mask{}))
}
