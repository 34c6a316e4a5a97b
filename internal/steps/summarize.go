package steps

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/petrijr/docflow/pkg/api"
)

// SummaryKey is the metadata key the summarize step writes.
const SummaryKey = "summary"

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// Summarize attaches an extractive summary to every item: the
// max_sentences (default 2) sentences with the highest word-frequency
// score, in their original order.
type Summarize struct{}

func NewSummarize() *Summarize { return &Summarize{} }

func (*Summarize) Type() string { return TypeSummarize }

func (*Summarize) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	limit := sc.ConfigInt("max_sentences", 2)
	if limit < 1 {
		limit = 1
	}

	out := make([]api.Item, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return api.StepResult{}, err
		}
		out = append(out, annotate(it, SummaryKey, Extract(it.Content, limit)))
	}
	return api.StepResult{Items: out}, nil
}

// Extract returns the best limit sentences of text joined by a space.
func Extract(text string, limit int) string {
	sentences := splitSentences(text)
	if len(sentences) <= limit {
		return strings.Join(sentences, " ")
	}

	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range tokens(s) {
			freq[normWord(w)]++
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, s := range sentences {
		words := tokens(s)
		total := 0
		for _, w := range words {
			total += freq[normWord(w)]
		}
		ranked[i] = scored{idx: i, score: float64(total) / float64(len(words))}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	keep := ranked[:limit]
	sort.Slice(keep, func(i, j int) bool { return keep[i].idx < keep[j].idx })
	picked := make([]string, len(keep))
	for i, k := range keep {
		picked[i] = sentences[k.idx]
	}
	return strings.Join(picked, " ")
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func normWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,;:!?\"'()[]"))
}
