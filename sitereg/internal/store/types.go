// CLAUDE:SUMMARY Row types for the sites table — descriptor fields plus health counters.
package store

// Row is one sites-table row: the immutable descriptor plus its
// registry-owned health counters.
type Row struct {
	Key         string
	Name        string
	Runtime     string
	API         string
	Ext         string
	Searchable  bool
	QuickSearch bool
	Filterable  bool
	HeadersJSON string
	Cookie      string
	Enabled     bool
	SortOrder   int

	Status         string
	SuccessCount   int64
	FailureCount   int64
	ConsecFailures int64
	LastSuccessAt  int64 // unix ms, 0 = never
	LastFailureAt  int64 // unix ms, 0 = never
	LastError      string
	Score          float64
	AvgLatencyMs   int64

	CreatedAt int64
	UpdatedAt int64
}
