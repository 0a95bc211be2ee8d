// CLAUDE:SUMMARY Deterministic quality scoring for merged sites.
package aggregate

// Scoring constants. The score is a monotonic function of capability flags
// and corroboration count, so merging in another source can never lower it.
const (
	scoreBase        = 0.20
	scoreSearchable  = 0.15
	scoreQuickSearch = 0.10
	scoreFilterable  = 0.10
	scorePerSource   = 0.05 // per source beyond the first
	scoreSourcesCap  = 0.20
	scoreLongAPI     = 0.10
	longAPIThreshold = 24 // full endpoint URLs clear this, bare filenames don't
)

// qualityScore computes the site's score in [0,1].
func qualityScore(s *Site) float64 {
	score := scoreBase
	if s.Searchable {
		score += scoreSearchable
	}
	if s.QuickSearch {
		score += scoreQuickSearch
	}
	if s.Filterable {
		score += scoreFilterable
	}
	corroboration := float64(len(s.SourceURLs)-1) * scorePerSource
	if corroboration > scoreSourcesCap {
		corroboration = scoreSourcesCap
	}
	if corroboration > 0 {
		score += corroboration
	}
	if len(s.API) > longAPIThreshold {
		score += scoreLongAPI
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Search relevance weights.
const (
	searchWeightName    = 3.0
	searchWeightKey     = 2.0
	searchWeightExt     = 1.0
	searchWeightQuality = 2.0
)
