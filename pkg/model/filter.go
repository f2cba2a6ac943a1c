package model

import (
	"fmt"
	"strings"
)

// FilterKey identifies one partition of the feed cache.
type FilterKey string

const (
	FilterAll     FilterKey = "ALL"
	FilterTopHit  FilterKey = "TOP_HIT"
	FilterTopMiss FilterKey = "TOP_MISS"

	teamPrefix = "TEAM_"
)

// Teams is the fixed roster of team codes that get their own partition.
var Teams = []string{"CSK", "MI", "RCB", "KKR", "SRH", "DC", "PBKS", "RR", "GT", "LSG"}

// IsTeam reports whether code is on the roster.
func IsTeam(code string) bool {
	for _, t := range Teams {
		if t == code {
			return true
		}
	}
	return false
}

// TeamFilter returns the partition key for a team code.
func TeamFilter(code string) FilterKey {
	return FilterKey(teamPrefix + code)
}

// ParseFilterKey parses and validates a filter key.
func ParseFilterKey(s string) (FilterKey, error) {
	key := FilterKey(strings.ToUpper(strings.TrimSpace(s)))
	if err := key.Validate(); err != nil {
		return "", err
	}
	return key, nil
}

// Validate returns ErrInvalidFilter unless the key is ALL, TOP_HIT, TOP_MISS or TEAM_<rostered code>.
func (k FilterKey) Validate() error {
	switch k {
	case FilterAll, FilterTopHit, FilterTopMiss:
		return nil
	}
	if code, ok := k.Team(); ok && IsTeam(code) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidFilter, string(k))
}

// Team returns the team code of a TEAM_<code> key.
func (k FilterKey) Team() (string, bool) {
	if !strings.HasPrefix(string(k), teamPrefix) {
		return "", false
	}
	code := strings.TrimPrefix(string(k), teamPrefix)
	return code, code != ""
}

// IsScoreOrdered reports whether the partition is ordered by a reaction count.
func (k FilterKey) IsScoreOrdered() bool {
	return k == FilterTopHit || k == FilterTopMiss
}

// SortRule returns the ordering used by the partition.
func (k FilterKey) SortRule() SortRule {
	switch k {
	case FilterTopHit:
		return SortHit
	case FilterTopMiss:
		return SortMiss
	default:
		return SortRecency
	}
}

// SortRule names a partition ordering. Ties are always broken by id descending.
type SortRule string

const (
	SortRecency SortRule = "recency" // createdAt desc
	SortHit     SortRule = "hit"     // hitCount desc
	SortMiss    SortRule = "miss"    // missCount desc
)

// Key returns the value an item is ordered by under the rule.
func (r SortRule) Key(it ContentItem) int64 {
	switch r {
	case SortHit:
		return it.HitCount
	case SortMiss:
		return it.MissCount
	default:
		return it.CreatedAt
	}
}

// Less reports whether a sorts before b (descending by key, then id descending).
func (r SortRule) Less(a, b ContentItem) bool {
	ka, kb := r.Key(a), r.Key(b)
	if ka != kb {
		return ka > kb
	}
	return a.ID > b.ID
}
