package translator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// maxContextBytes bounds the prompt payload. Sections that overflow the
// budget are dropped whole, lowest priority last in the section list, so the
// candidate block and the response instructions always survive intact.
const maxContextBytes = 16 * 1024

const maxReferenceSnippets = 3

const respondInstructions = `RESPOND with JSON only, one of:
{"type":"order","items":[{"source":...,"metric":...,"region":...,"mode":"aggregate"|"events","derived":"per_capita"?,"filters":{"magnitude_min":4.0}?,"start_year":?,"end_year":?,"latest":?,"limit":?}],"derived":[{"numerator":{"source":...,"metric":...},"denominator":{...},"label":...}]?}
{"type":"navigate","locations":[{"location_code":...,"label":...}]}
{"type":"disambiguate","options":[{"location_code":...,"label":...}]}
{"type":"chat","message":...}
`

// BuildContext assembles the model prompt: scored candidates, flat signals,
// the catalog's source/metric summary, matching reference snippets, and the
// caller-held conversation history. The model is a translator only — the
// prompt says so explicitly, and the engine recomputes everything locally.
func BuildContext(cs *domain.CandidateSet, cat *catalog.Catalog, conv *domain.Conversation) string {
	var b strings.Builder

	b.WriteString("You translate map questions into structured orders for a geographic statistics engine.\n")
	b.WriteString("You never compute values; the engine executes orders locally against its own tables.\n")
	fmt.Fprintf(&b, "CURRENT DATE: %s\n\n", domain.Clock().Now().UTC().Format("2006-01-02"))

	fmt.Fprintf(&b, "USER QUERY: %s\n\n", cs.Query)

	b.WriteString("SCORED CANDIDATES (deterministic pre-analysis, confidence 0..1):\n")
	writeCandidates(&b, "intent", cs.ByKind(domain.CandidateIntent))
	writeCandidates(&b, "source", cs.ByKind(domain.CandidateSource))
	writeCandidates(&b, "location", cs.ByKind(domain.CandidateLocation))
	b.WriteString("\n")

	writeSignals(&b, cs.Signals)

	// Catalog summary, references, and history in descending priority. A
	// section that no longer fits is dropped; the instruction block at the
	// end is never cut.
	budget := maxContextBytes - b.Len() - len(respondInstructions)
	for _, section := range []string{
		catalogSummary(cat),
		referenceNotes(cat, cs.Query),
		historySection(conv),
	} {
		if len(section) > budget {
			continue
		}
		b.WriteString(section)
		budget -= len(section)
	}

	b.WriteString(respondInstructions)
	return b.String()
}

func writeCandidates(b *strings.Builder, label string, list []domain.Candidate) {
	if len(list) == 0 {
		fmt.Fprintf(b, "  %s: none\n", label)
		return
	}
	for _, c := range list {
		fmt.Fprintf(b, "  %s %.2f %s", label, c.Confidence, c.Value)
		if c.LocationCode != "" {
			fmt.Fprintf(b, " [%s]", c.LocationCode)
		}
		if len(c.Evidence) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(c.Evidence, ","))
		}
		b.WriteString("\n")
	}
}

func writeSignals(b *strings.Builder, sig domain.Signals) {
	if len(sig.Regions) == 0 && len(sig.Topics) == 0 && sig.Time == nil {
		return
	}
	b.WriteString("SIGNALS:\n")
	if len(sig.Regions) > 0 {
		fmt.Fprintf(b, "  regions: %s\n", strings.Join(sig.Regions, ", "))
	}
	if len(sig.Topics) > 0 {
		fmt.Fprintf(b, "  topics: %s\n", strings.Join(sig.Topics, ", "))
	}
	if t := sig.Time; t != nil {
		switch {
		case t.Latest:
			b.WriteString("  time: latest available\n")
		case t.Series:
			fmt.Fprintf(b, "  time: open series %d-%d\n", t.StartYear, t.EndYear)
		default:
			fmt.Fprintf(b, "  time: %d-%d\n", t.StartYear, t.EndYear)
		}
	}
	b.WriteString("\n")
}

func catalogSummary(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("AVAILABLE SOURCES:\n")
	ids := make([]string, 0, len(cat.Sources))
	for id := range cat.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		src := cat.Sources[id]
		metrics := make([]string, 0, len(src.Metrics))
		for name, m := range src.Metrics {
			if !m.Internal {
				metrics = append(metrics, name)
			}
		}
		sort.Strings(metrics)
		fmt.Fprintf(&b, "  %s (%s): metrics [%s]", id, src.Name, strings.Join(metrics, ", "))
		if len(src.EventFiles) > 0 {
			files := make([]string, 0, len(src.EventFiles))
			for key := range src.EventFiles {
				files = append(files, key)
			}
			sort.Strings(files)
			fmt.Fprintf(&b, " event files [%s]", strings.Join(files, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func referenceNotes(cat *catalog.Catalog, query string) string {
	refs := cat.MatchReferences(query, maxReferenceSnippets)
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("REFERENCE NOTES:\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "  %s: %s\n", ref.Title, ref.Snippet)
	}
	b.WriteString("\n")
	return b.String()
}

func historySection(conv *domain.Conversation) string {
	if conv == nil || len(conv.History) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("CONVERSATION HISTORY (most recent last):\n")
	history := conv.History
	if len(history) > 6 {
		history = history[len(history)-6:]
	}
	for _, line := range history {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}
