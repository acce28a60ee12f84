package types

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSyncBlockRangeHeights(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := rapid.Uint64Range(0, 1<<20).Draw(t, "start").(uint64)
		end := rapid.Uint64Range(0, 1<<20).Draw(t, "end").(uint64)
		if start > end+500 || end > start+500 {
			end = start + uint64(rapid.IntRange(0, 500).Draw(t, "span").(int))
		}
		r := &SyncBlockRange{Start: start, End: end}

		heights := r.Heights()
		require.Equal(t, int(r.Len()), len(heights))
		require.Equal(t, start, heights[0])
		require.Equal(t, end, heights[len(heights)-1])
		for i := 1; i < len(heights); i++ {
			if r.Ascending() {
				require.Equal(t, heights[i-1]+1, heights[i])
			} else {
				require.Equal(t, heights[i-1]-1, heights[i])
			}
		}
		if start < end {
			require.Equal(t, start, r.Lowest())
		} else {
			require.Equal(t, end, r.Lowest())
		}
	})
}

func TestSyncStateSnapshotLast(t *testing.T) {
	require.True(t, (&SyncStateSnapshot{}).Last())
	require.False(t, (&SyncStateSnapshot{Delta: []byte{0}}).Last())
}
