package domain

import "sort"

// CandidateKind tags which detector produced a candidate.
type CandidateKind string

const (
	CandidateIntent   CandidateKind = "intent"
	CandidateLocation CandidateKind = "location"
	CandidateSource   CandidateKind = "source"
)

// SuffixType records whether a location term matched in singular or plural
// form. Plural carries drill-down / show-all semantics; singular with
// multiple equal matches needs disambiguation.
type SuffixType string

const (
	SuffixNone     SuffixType = ""
	SuffixSingular SuffixType = "singular"
	SuffixPlural   SuffixType = "plural"
)

// Candidate is one scored interpretation possibility. Confidence is a real
// number in [0,1], never a boolean; several candidates of the same kind
// coexist and are only ever re-ranked, never discarded before reaching the
// router or the model context.
type Candidate struct {
	Kind       CandidateKind `json:"kind"`
	Value      string        `json:"value"`
	Confidence float64       `json:"confidence"`
	Evidence   []string      `json:"evidence"`

	// MatchedText is the query substring the detector matched on. The
	// source-overlap penalty pass compares these across kinds.
	MatchedText string `json:"matched_text,omitempty"`

	// Location-specific fields.
	LocationCode        string     `json:"location_code,omitempty"`
	SuffixType          SuffixType `json:"suffix_type,omitempty"`
	NeedsDisambiguation bool       `json:"needs_disambiguation,omitempty"`
}

// TimeSignal is the unambiguous time-range extraction from a query. A zero
// StartYear/EndYear with Latest set means "most recent available", resolved
// per source at fill time.
type TimeSignal struct {
	StartYear int  `json:"start_year,omitempty"`
	EndYear   int  `json:"end_year,omitempty"`
	Series    bool `json:"series,omitempty"`
	Latest    bool `json:"latest,omitempty"`
}

// Signals are flat structured extractions that need no scoring: region
// names, topic buckets, and the time range.
type Signals struct {
	Regions []string    `json:"regions,omitempty"`
	Topics  []string    `json:"topics,omitempty"`
	Time    *TimeSignal `json:"time,omitempty"`
}

// CandidateSet is everything the generator extracted from one query. It is
// immutable once produced; its lifetime is a single request.
type CandidateSet struct {
	Query      string                        `json:"query"`
	Candidates map[CandidateKind][]Candidate `json:"candidates"`
	Signals    Signals                       `json:"signals"`
}

// ByKind returns the candidates of one kind, sorted descending by
// confidence. The returned slice is owned by the set; callers must not
// mutate it.
func (cs *CandidateSet) ByKind(kind CandidateKind) []Candidate {
	return cs.Candidates[kind]
}

// Best returns the highest-confidence candidate of a kind, if any.
func (cs *CandidateSet) Best(kind CandidateKind) (Candidate, bool) {
	list := cs.Candidates[kind]
	if len(list) == 0 {
		return Candidate{}, false
	}
	return list[0], true
}

// SortCandidates orders a slice descending by confidence, breaking ties by
// value so the ordering is deterministic.
func SortCandidates(list []Candidate) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Confidence != list[j].Confidence {
			return list[i].Confidence > list[j].Confidence
		}
		return list[i].Value < list[j].Value
	})
}

// Viewport is the caller's current map extent, used to scope admin-2
// matching.
type Viewport struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether a point lies inside the viewport.
func (v Viewport) Contains(lat, lon float64) bool {
	return lat >= v.MinLat && lat <= v.MaxLat && lon >= v.MinLon && lon <= v.MaxLon
}
