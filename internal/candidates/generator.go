// Package candidates turns free-text queries into scored interpretation
// candidates. Generation is deterministic and side-effect-free: every
// detector runs to completion and reports all matches above the floor, even
// when one category has a dominant single match. Decisions happen later, in
// the router or the model.
package candidates

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
)

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Generator produces CandidateSets against a fixed catalog.
type Generator struct {
	cat     *catalog.Catalog
	scoring Scoring
	topics  map[string][]string

	sourceIDs   []string // sorted for deterministic iteration
	metricWords map[string]bool
}

// Option configures a Generator.
type Option func(*Generator)

// WithScoring overrides the default detector weights.
func WithScoring(s Scoring) Option {
	return func(g *Generator) { g.scoring = s }
}

// WithTopics overrides the default topic keyword buckets.
func WithTopics(topics map[string][]string) Option {
	return func(g *Generator) { g.topics = topics }
}

// New builds a Generator and precomputes its lookup tables.
func New(cat *catalog.Catalog, opts ...Option) *Generator {
	g := &Generator{
		cat:     cat,
		scoring: DefaultScoring(),
		topics:  DefaultTopics(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for id := range cat.Sources {
		g.sourceIDs = append(g.sourceIDs, id)
	}
	sort.Strings(g.sourceIDs)

	g.metricWords = make(map[string]bool)
	for _, src := range cat.Sources {
		for name, m := range src.Metrics {
			for _, w := range strings.Fields(normalize(name)) {
				g.metricWords[w] = true
			}
			for _, w := range strings.Fields(normalize(m.Label)) {
				g.metricWords[w] = true
			}
		}
	}
	return g
}

// Generate extracts all scored candidates and flat signals from a query.
// The optional viewport scopes admin-2 matching. No early return: every
// category is always populated and returned.
func (g *Generator) Generate(query string, viewport *domain.Viewport) *domain.CandidateSet {
	q := normalize(query)

	sources := g.detectSources(q)
	locations := g.detectLocations(q, viewport)
	intents := g.detectIntents(q)

	// Mandatory post-pass: a location term swallowed by a source name
	// ("bureau" inside "australian bureau of statistics") is demoted before
	// anything downstream sees the set.
	g.applySourceOverlapPenalty(locations, sources)
	markDisambiguation(locations)

	domain.SortCandidates(sources)
	domain.SortCandidates(locations)
	domain.SortCandidates(intents)

	return &domain.CandidateSet{
		Query: query,
		Candidates: map[domain.CandidateKind][]domain.Candidate{
			domain.CandidateSource:   sources,
			domain.CandidateLocation: locations,
			domain.CandidateIntent:   intents,
		},
		Signals: g.extractSignals(q),
	}
}

func (g *Generator) detectSources(q string) []domain.Candidate {
	hasDataWords := false
	for _, w := range dataSeekingWords {
		if containsPhrase(q, w) {
			hasDataWords = true
			break
		}
	}

	var out []domain.Candidate
	for _, id := range g.sourceIDs {
		src := g.cat.Sources[id]
		name := normalize(src.Name)

		var conf float64
		var matched string
		var evidence []string

		switch {
		case containsPhrase(q, name):
			conf, matched = g.scoring.SourceExactName, name
			evidence = append(evidence, "exact_name")
		case g.matchesAlias(q, src):
			conf, matched = g.scoring.SourceIdentifier, normalize(id)
			evidence = append(evidence, "identifier")
		default:
			common := longestCommonSubstring(q, name)
			common = strings.TrimSpace(common)
			switch {
			case len(common) > g.scoring.SubstrLongLen:
				conf, matched = g.scoring.SourceSubstrLong, common
				evidence = append(evidence, "substring_long")
			case len(common) >= g.scoring.SubstrShortLen:
				conf, matched = g.scoring.SourceSubstrShort, common
				evidence = append(evidence, "substring_short")
			}
		}
		if conf == 0 {
			continue
		}
		if hasDataWords {
			conf += g.scoring.SourceDataBoost
			evidence = append(evidence, "data_words_boost")
		}
		if conf > 1 {
			conf = 1
		}
		if conf < g.scoring.MinConfidence {
			continue
		}
		out = append(out, domain.Candidate{
			Kind:        domain.CandidateSource,
			Value:       id,
			Confidence:  conf,
			Evidence:    evidence,
			MatchedText: matched,
		})
	}
	return out
}

func (g *Generator) matchesAlias(q string, src catalog.Source) bool {
	if containsPhrase(q, normalize(src.ID)) {
		return true
	}
	for _, alias := range src.Aliases {
		if containsPhrase(q, normalize(alias)) {
			return true
		}
	}
	return false
}

func (g *Generator) detectLocations(q string, viewport *domain.Viewport) []domain.Candidate {
	var out []domain.Candidate
	for _, loc := range g.cat.Locations {
		name := normalize(loc.Name)
		matched, suffix := matchName(q, name)

		var conf float64
		var evidence []string

		switch {
		case matched != "" && loc.Level == "country":
			conf = g.scoring.CountryExact
			evidence = append(evidence, "country_exact")
		case matched != "" && loc.CapitalOf != "":
			conf = g.scoring.Capital
			evidence = append(evidence, "capital")
		case matched != "" && loc.Level == "admin1":
			conf = g.scoring.Admin1
			evidence = append(evidence, "admin1")
		case matched != "" && loc.Level == "admin2":
			conf = g.scoring.Admin2Exact
			evidence = append(evidence, "admin2_exact")
		case loc.Level == "admin2" && viewport != nil && viewport.Contains(loc.Lat, loc.Lon):
			// Bare admin-2 names ("washington" for "Washington County") only
			// match when the caller is already looking at them.
			if bare := bareAdmin2Name(name); bare != "" && containsPhrase(q, bare) {
				conf = g.scoring.Admin2Viewport
				matched, suffix = bare, domain.SuffixSingular
				evidence = append(evidence, "viewport_admin2")
			}
		}

		if conf == 0 {
			if partial := partialWordMatch(q, name); partial != "" {
				conf = g.scoring.PartialWord
				matched, suffix = partial, domain.SuffixSingular
				evidence = append(evidence, "partial_word")
			}
		}
		if conf == 0 || conf < g.scoring.MinConfidence {
			continue
		}
		out = append(out, domain.Candidate{
			Kind:         domain.CandidateLocation,
			Value:        loc.Name,
			Confidence:   conf,
			Evidence:     evidence,
			MatchedText:  matched,
			LocationCode: loc.Code,
			SuffixType:   suffix,
		})
	}
	return out
}

// matchName tries the exact phrase and then its pluralized form, reporting
// which form appeared in the query.
func matchName(q, name string) (string, domain.SuffixType) {
	if containsPhrase(q, name) {
		return name, domain.SuffixSingular
	}
	if plural := pluralize(name); plural != name && containsPhrase(q, plural) {
		return plural, domain.SuffixPlural
	}
	return "", domain.SuffixNone
}

// bareAdmin2Name strips a trailing administrative designator so that
// "washington county" can be matched as just "washington" inside a viewport.
func bareAdmin2Name(name string) string {
	for _, suffix := range []string{" county", " parish", " borough", " district"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return ""
}

// partialWordMatch reports a query token of four or more characters that is
// a strict prefix of the location name's first word.
func partialWordMatch(q, name string) string {
	first := strings.Fields(name)
	if len(first) == 0 {
		return ""
	}
	for _, tok := range strings.Fields(q) {
		if len(tok) >= 4 && len(tok) < len(first[0]) && strings.HasPrefix(first[0], tok) {
			return tok
		}
	}
	return ""
}

func (g *Generator) detectIntents(q string) []domain.Candidate {
	scores := map[string]float64{}
	evidence := map[string][]string{}

	add := func(intent string, score float64, tag string) {
		scores[intent] += score
		evidence[intent] = append(evidence[intent], tag)
	}

	for _, p := range navigationPhrases {
		if containsPhrase(q, p) {
			add("navigation", g.scoring.IntentNavigation, "phrase:"+p)
			break
		}
	}
	for _, w := range dataSeekingWords {
		if containsPhrase(q, w) {
			add("data_request", g.scoring.IntentDataWords, "data_word:"+w)
			break
		}
	}
	for _, tok := range strings.Fields(q) {
		if g.metricWords[tok] {
			add("data_request", g.scoring.IntentMetricWord, "metric_word:"+tok)
			break
		}
	}
	for _, p := range referencePhrases {
		if strings.HasPrefix(q, p) || containsPhrase(q, p) {
			add("reference_lookup", g.scoring.IntentReference, "phrase:"+p)
			break
		}
	}

	var out []domain.Candidate
	for intent, score := range scores {
		if score > 1 {
			score = 1
		}
		if score < g.scoring.MinConfidence {
			continue
		}
		out = append(out, domain.Candidate{
			Kind:       domain.CandidateIntent,
			Value:      intent,
			Confidence: score,
			Evidence:   evidence[intent],
		})
	}
	return out
}

// applySourceOverlapPenalty demotes location candidates whose matched text
// is contained in the matched text of a source candidate of higher or equal
// confidence. The adjustment only ever decreases scores, and confidences
// stay clamped to [0,1].
func (g *Generator) applySourceOverlapPenalty(locations, sources []domain.Candidate) {
	for i := range locations {
		loc := &locations[i]
		if loc.MatchedText == "" {
			continue
		}
		for _, src := range sources {
			if src.Confidence >= loc.Confidence && strings.Contains(src.MatchedText, loc.MatchedText) {
				loc.Confidence -= g.scoring.SourceOverlapPenalty
				if loc.Confidence < 0 {
					loc.Confidence = 0
				}
				loc.Evidence = append(loc.Evidence, "source_overlap_penalty")
				break
			}
		}
	}
}

// markDisambiguation flags singular-form matches that tie with at least one
// other candidate on the same matched text at the same confidence.
func markDisambiguation(locations []domain.Candidate) {
	type key struct {
		text string
		conf float64
	}
	counts := map[key]int{}
	for _, c := range locations {
		if c.SuffixType == domain.SuffixSingular {
			counts[key{c.MatchedText, c.Confidence}]++
		}
	}
	for i := range locations {
		c := &locations[i]
		if c.SuffixType == domain.SuffixSingular && counts[key{c.MatchedText, c.Confidence}] > 1 {
			c.NeedsDisambiguation = true
		}
	}
}

func (g *Generator) extractSignals(q string) domain.Signals {
	var sig domain.Signals

	regionNames := make([]string, 0, len(g.cat.Regions))
	for name := range g.cat.Regions {
		regionNames = append(regionNames, name)
	}
	sort.Strings(regionNames)
	for _, name := range regionNames {
		if containsPhrase(q, normalize(name)) {
			sig.Regions = append(sig.Regions, name)
		}
	}

	topicNames := make([]string, 0, len(g.topics))
	for name := range g.topics {
		topicNames = append(topicNames, name)
	}
	sort.Strings(topicNames)
	for _, name := range topicNames {
		for _, kw := range g.topics[name] {
			if containsPhrase(q, normalize(kw)) {
				sig.Topics = append(sig.Topics, name)
				break
			}
		}
	}

	sig.Time = extractTime(q)
	return sig
}

// extractTime pulls explicit years, open-series words, and "latest" markers.
// Returns nil when the query says nothing about time.
func extractTime(q string) *domain.TimeSignal {
	var ts domain.TimeSignal

	years := yearRe.FindAllString(q, -1)
	if len(years) > 0 {
		first, _ := strconv.Atoi(years[0])
		last, _ := strconv.Atoi(years[len(years)-1])
		if first > last {
			first, last = last, first
		}
		ts.StartYear, ts.EndYear = first, last
	}
	for _, w := range seriesWords {
		if containsPhrase(q, w) {
			ts.Series = true
			break
		}
	}
	if ts.StartYear == 0 {
		for _, w := range latestWords {
			if containsPhrase(q, w) {
				ts.Latest = true
				break
			}
		}
	}

	if ts == (domain.TimeSignal{}) {
		return nil
	}
	return &ts
}
