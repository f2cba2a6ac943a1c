package model

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterKey(t *testing.T) {
	tests := []struct {
		in      string
		want    FilterKey
		wantErr bool
	}{
		{"ALL", FilterAll, false},
		{"top_hit", FilterTopHit, false},
		{" TOP_MISS ", FilterTopMiss, false},
		{"TEAM_CSK", TeamFilter("CSK"), false},
		{"team_mi", TeamFilter("MI"), false},
		{"TEAM_XYZ", "", true},
		{"TEAM_", "", true},
		{"RECENT", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFilterKey(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidFilter))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterKey_SortRule(t *testing.T) {
	assert.Equal(t, SortRecency, FilterAll.SortRule())
	assert.Equal(t, SortHit, FilterTopHit.SortRule())
	assert.Equal(t, SortMiss, FilterTopMiss.SortRule())
	assert.Equal(t, SortRecency, TeamFilter("RCB").SortRule())

	assert.True(t, FilterTopHit.IsScoreOrdered())
	assert.False(t, TeamFilter("RCB").IsScoreOrdered())
}

func TestIndexFor(t *testing.T) {
	idx, ok := IndexFor(FilterTopHit)
	assert.True(t, ok)
	assert.Equal(t, "by-hit", idx)

	idx, ok = IndexFor(FilterTopMiss)
	assert.True(t, ok)
	assert.Equal(t, "by-miss", idx)

	idx, ok = IndexFor(TeamFilter("GT"))
	assert.True(t, ok)
	assert.Equal(t, "by-team/GT", idx)

	_, ok = IndexFor(FilterAll)
	assert.False(t, ok)
}

func TestSortRule_Less(t *testing.T) {
	items := []ContentItem{
		{ID: "a", HitCount: 5, CreatedAt: 10},
		{ID: "b", HitCount: 7, CreatedAt: 30},
		{ID: "c", HitCount: 5, CreatedAt: 20},
	}

	sort.Slice(items, func(i, j int) bool { return SortHit.Less(items[i], items[j]) })
	assert.Equal(t, []string{"b", "c", "a"}, []string{items[0].ID, items[1].ID, items[2].ID})

	sort.Slice(items, func(i, j int) bool { return SortRecency.Less(items[i], items[j]) })
	assert.Equal(t, []string{"b", "c", "a"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestIndexPage_IDs(t *testing.T) {
	p := IndexPage{Index: IndexByHit, Entries: []IndexEntry{{ID: "x", Score: 2}, {ID: "y", Score: 1}}}
	assert.Equal(t, []string{"x", "y"}, p.IDs())
}
