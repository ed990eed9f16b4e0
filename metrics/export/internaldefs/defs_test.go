package internaldefs

import (
	"strings"
	"testing"
	"time"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/stretchr/testify/require"
)

func TestEveryCounterBelongsToOneFamily(t *testing.T) {
	seen := map[goTrust.MetricID]string{}
	for _, fam := range CounterFamilies {
		require.True(t, strings.HasPrefix(fam.Name, "gotrust_"), fam.Name)
		require.True(t, strings.HasSuffix(fam.Name, "_total"), fam.Name)
		require.NotEmpty(t, fam.Help)

		values := map[string]bool{}
		for _, s := range fam.Series {
			prev, dup := seen[s.ID]
			require.False(t, dup, "%s in both %s and %s", s.ID, prev, fam.Name)
			seen[s.ID] = fam.Name

			if fam.Label == "" {
				require.Len(t, fam.Series, 1, "unlabeled family %s", fam.Name)
				require.Empty(t, s.Value)
				continue
			}
			require.NotEmpty(t, s.Value)
			require.False(t, values[s.Value], "duplicate %s=%q", fam.Label, s.Value)
			values[s.Value] = true
		}
	}
	for id := goTrust.MetricLoginSuccess; id < goTrust.MetricVerifyLatency; id++ {
		require.Contains(t, seen, id, "no family for %s", id)
	}
	require.NotContains(t, seen, goTrust.MetricVerifyLatency)
}

func TestBoundsMatchEngineHistogram(t *testing.T) {
	require.Len(t, HistogramBounds, len(goTrust.HistogramBounds)+1)
	for i, d := range goTrust.HistogramBounds {
		parsed, err := time.ParseDuration(HistogramBounds[i] + "s")
		require.NoError(t, err)
		require.Equal(t, d, parsed)
	}
	require.Equal(t, "+Inf", HistogramBounds[len(HistogramBounds)-1])
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	require.Equal(t, [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}, got)
}

func TestRoleCounts(t *testing.T) {
	system, custom := RoleCounts([]rbac.Role{
		{Name: rbac.RoleViewer, IsSystemRole: true},
		{Name: rbac.RoleAdmin, IsSystemRole: true},
		{Name: "analyst"},
	})
	require.Equal(t, uint64(2), system)
	require.Equal(t, uint64(1), custom)
}
