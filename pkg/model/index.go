package model

// Secondary index names.
const (
	IndexByHit  = "by-hit"
	IndexByMiss = "by-miss"

	teamIndexPrefix = "by-team/"
)

// TeamIndex returns the index name for a team code.
func TeamIndex(code string) string {
	return teamIndexPrefix + code
}

// IndexFor returns the secondary index backing a filter partition.
// ALL is served straight from the primary collection and has no index.
func IndexFor(key FilterKey) (string, bool) {
	switch key {
	case FilterTopHit:
		return IndexByHit, true
	case FilterTopMiss:
		return IndexByMiss, true
	}
	if code, ok := key.Team(); ok {
		return TeamIndex(code), true
	}
	return "", false
}

// IndexEntry is one itemId -> score mapping of a secondary index.
type IndexEntry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// IndexPage is a page read from a secondary index. It carries only references
// and must be resolved into an ItemPage before anything is cached.
type IndexPage struct {
	Index   string
	Entries []IndexEntry
}

// IDs returns the referenced item ids in index order.
func (p IndexPage) IDs() []string {
	ids := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.ID
	}
	return ids
}

// ItemPage is a page of fully resolved items, ready for the cache.
type ItemPage struct {
	Items []ContentItem
	// Raw is the number of rows the remote read returned before fan-out drops.
	Raw int
}
