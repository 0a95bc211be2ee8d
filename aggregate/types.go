// CLAUDE:SUMMARY Aggregated catalog types — merged sites, categories, sort orders, search hits.
package aggregate

import "time"

// Site is one logical content source merged across every configuration
// document that mentioned it.
type Site struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Runtime     string   `json:"runtime"`
	API         string   `json:"api"`
	Ext         string   `json:"ext,omitempty"`
	Searchable  bool     `json:"searchable"`
	QuickSearch bool     `json:"quickSearch"`
	Filterable  bool     `json:"filterable"`
	Desc        string   `json:"desc,omitempty"`
	SourceURLs  []string `json:"sourceUrls"`

	// QualityScore is deterministic in [0,1]; merging in another source can
	// only raise or hold it.
	QualityScore float64 `json:"qualityScore"`
	// ReliabilityScore comes from registry health (score/100) when the site
	// is registered, otherwise a 0.5 neutral prior.
	ReliabilityScore float64   `json:"reliabilityScore"`
	LastSeen         time.Time `json:"lastSeen"`
}

// Category groups merged sites by runtime kind. Regenerated on every
// aggregation cycle, never persisted on its own.
type Category struct {
	Type      string `json:"type"`
	SiteCount int    `json:"siteCount"`
	// Histogram counts capability profiles within the category.
	Histogram map[string]int `json:"histogram"`
}

// Catalog is one full aggregation result.
type Catalog struct {
	Sites           []*Site     `json:"sites"`
	Categories      []*Category `json:"categories"`
	SourceCount     int         `json:"sourceCount"`
	FailedSources   int         `json:"failedSources"`
	UniqueSiteCount int         `json:"uniqueSiteCount"`
	GeneratedAt     time.Time   `json:"generatedAt"`
}

// SortBy names a read-view sort order.
type SortBy string

const (
	SortQuality     SortBy = "quality"
	SortReliability SortBy = "reliability"
	SortRecent      SortBy = "recent"
	SortName        SortBy = "name"
)

// SearchHit pairs a site with its relevance for one keyword query.
type SearchHit struct {
	Site      *Site   `json:"site"`
	Relevance float64 `json:"relevance"`
}

// Page is one slice of a filtered, sorted site view.
type Page struct {
	Sites    []*Site `json:"sites"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
	Total    int     `json:"total"`
}
