package steps

import (
	"context"
	"encoding/gob"
	"sort"
	"strings"
	"unicode"

	"github.com/petrijr/docflow/pkg/api"
)

// Metadata keys written by the graph-extract step.
const (
	EntitiesKey  = "entities"
	RelationsKey = "relations"
)

// Relation is an undirected co-occurrence edge between two entities.
type Relation struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Weight int    `json:"weight"`
}

// GraphExtract finds entities (runs of capitalised words) in every item and
// links entities that appear in the same item. Items gain "entities" and
// "relations" metadata; the step metrics carry the batch-wide graph size.
type GraphExtract struct{}

func init() {
	// Relations are stored in item metadata and must survive the gob-encoded
	// output caches.
	gob.Register([]Relation{})
}

func NewGraphExtract() *GraphExtract { return &GraphExtract{} }

func (*GraphExtract) Type() string { return TypeGraphExtract }

func (*GraphExtract) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	minLen := sc.ConfigInt("min_entity_length", 2)

	nodes := make(map[string]struct{})
	edges := make(map[[2]string]int)
	out := make([]api.Item, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return api.StepResult{}, err
		}
		ents := Entities(it.Content, minLen)
		var rels []Relation
		for i := 0; i < len(ents); i++ {
			nodes[ents[i]] = struct{}{}
			for j := i + 1; j < len(ents); j++ {
				rels = append(rels, Relation{From: ents[i], To: ents[j], Weight: 1})
				edges[[2]string{ents[i], ents[j]}]++
			}
		}
		cp := annotate(it, EntitiesKey, ents)
		cp.Metadata[RelationsKey] = rels
		out = append(out, cp)
	}

	return api.StepResult{
		Items:   out,
		Metrics: map[string]any{"nodes": len(nodes), "edges": len(edges)},
	}, nil
}

// stopwords are capitalised sentence openers that never start an entity.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "in": true, "on": true, "at": true, "and": true,
	"but": true, "or": true, "if": true, "we": true, "i": true, "our": true,
}

// Entities returns the distinct capitalised phrases of text, sorted.
// Phrases shorter than minLen characters are ignored.
func Entities(text string, minLen int) []string {
	set := make(map[string]struct{})
	var run []string
	flush := func() {
		if len(run) > 0 {
			if e := strings.Join(run, " "); len(e) >= minLen {
				set[e] = struct{}{}
			}
			run = run[:0]
		}
	}

	for _, raw := range tokens(text) {
		w := strings.TrimFunc(raw, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" {
			flush()
			continue
		}
		first := []rune(w)[0]
		if unicode.IsUpper(first) {
			if len(run) > 0 || !stopwords[strings.ToLower(w)] {
				run = append(run, w)
			}
		} else {
			flush()
		}
		// Punctuation after a word ends the phrase.
		if last := raw[len(raw)-1]; strings.ContainsRune(".,;:!?)", rune(last)) {
			flush()
		}
	}
	flush()

	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
