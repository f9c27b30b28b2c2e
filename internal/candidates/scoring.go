package candidates

// Scoring holds every detector weight and penalty. The magnitudes are
// heuristics, not a tuned model, so they live in configuration with these
// defaults rather than in constants scattered through the detectors.
type Scoring struct {
	// Source detector.
	SourceExactName   float64
	SourceIdentifier  float64
	SourceSubstrLong  float64 // contiguous overlap longer than SubstrLongLen
	SourceSubstrShort float64 // overlap of SubstrShortLen..SubstrLongLen
	SourceDataBoost   float64 // query contains generic data-seeking words
	SubstrLongLen     int
	SubstrShortLen    int

	// Location detector.
	CountryExact   float64
	Capital        float64
	Admin1         float64
	Admin2Exact    float64 // full admin-2 name spelled out in the query
	Admin2Viewport float64 // bare admin-2 name scoped by the viewport
	PartialWord    float64

	// Post-pass: a location candidate whose matched text is contained in a
	// higher-or-equal source candidate's matched text loses this much.
	SourceOverlapPenalty float64

	// Intent detector.
	IntentNavigation float64
	IntentDataWords  float64
	IntentMetricWord float64
	IntentReference  float64

	// Reporting floor: detector matches below this are not emitted.
	// Candidates already emitted are only re-ranked, never dropped, so the
	// overlap penalty may push one below the floor without removing it.
	MinConfidence float64
}

// DefaultScoring returns the starting-point weights.
func DefaultScoring() Scoring {
	return Scoring{
		SourceExactName:   1.0,
		SourceIdentifier:  0.9,
		SourceSubstrLong:  0.7,
		SourceSubstrShort: 0.5,
		SourceDataBoost:   0.1,
		SubstrLongLen:     8,
		SubstrShortLen:    4,

		CountryExact:   1.0,
		Capital:        0.9,
		Admin1:         0.8,
		Admin2Exact:    0.7,
		Admin2Viewport: 0.5,
		PartialWord:    0.3,

		SourceOverlapPenalty: 0.5,

		IntentNavigation: 0.5,
		IntentDataWords:  0.3,
		IntentMetricWord: 0.4,
		IntentReference:  0.3,

		MinConfidence: 0.25,
	}
}

var (
	dataSeekingWords  = []string{"data", "statistics", "stats", "source"}
	navigationPhrases = []string{"show me", "where is", "zoom to", "go to", "take me to"}
	referencePhrases  = []string{"what is", "what's", "capital of", "how many", "tell me about"}
	seriesWords       = []string{"trend", "historical", "history", "over time"}
	latestWords       = []string{"latest", "current", "most recent", "right now"}
	showAllPhrases    = []string{"show all", "show them all", "show borders", "all of them"}
)

// DefaultTopics maps topic buckets to their trigger keywords.
func DefaultTopics() map[string][]string {
	return map[string][]string{
		"seismic":      {"earthquake", "quake", "seismic", "tremor"},
		"storms":       {"hurricane", "storm", "cyclone", "typhoon", "tornado"},
		"wildfire":     {"fire", "wildfire", "burned", "burn scar"},
		"flood":        {"flood", "flooding", "inundation"},
		"economy":      {"gdp", "economy", "economic", "income"},
		"demographics": {"population", "census", "demographic"},
	}
}

// IsShowAllTrigger reports whether the query contains a "show all" phrase,
// used by the router to resolve stored disambiguation options directly.
func IsShowAllTrigger(query string) bool {
	q := normalize(query)
	for _, p := range showAllPhrases {
		if containsPhrase(q, p) {
			return true
		}
	}
	return false
}
