package peersync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentile_HeadAndTailOfDescendingList(t *testing.T) {
	sorted := []int64{130, 125, 120, 115, 110}

	require.Equal(t, int64(130), percentile(sorted, 0))
	require.Equal(t, int64(110), percentile(sorted, 1))
}

func TestPercentile_EmptySliceReturnsZero(t *testing.T) {
	require.Equal(t, int64(0), percentile(nil, 0.5))
}

func TestSortDesc_OrdersByAbsoluteValue(t *testing.T) {
	versions := []int64{-50, 10, -100, 30}
	sortDesc(versions)
	require.Equal(t, []int64{-100, -50, 30, 10}, versions)
}
