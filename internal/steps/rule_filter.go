package steps

import (
	"context"
	"fmt"
	"regexp"

	"github.com/petrijr/docflow/pkg/api"
)

// RuleFilter keeps items within a token range that match none of the drop
// patterns.
//
// Config:
//
//	min_tokens     int       items with fewer tokens are dropped (default 0)
//	max_tokens     int       items with more tokens are dropped (0 = no limit)
//	drop_patterns  []string  regular expressions; a match drops the item
type RuleFilter struct{}

func NewRuleFilter() *RuleFilter { return &RuleFilter{} }

func (*RuleFilter) Type() string { return TypeRuleFilter }

func (*RuleFilter) Execute(ctx context.Context, items []api.Item, sc api.StepContext) (api.StepResult, error) {
	minTokens := sc.ConfigInt("min_tokens", 0)
	maxTokens := sc.ConfigInt("max_tokens", 0)
	if maxTokens > 0 && minTokens > maxTokens {
		return api.StepResult{}, fmt.Errorf("rule-filter: min_tokens %d exceeds max_tokens %d", minTokens, maxTokens)
	}

	var patterns []*regexp.Regexp
	for _, p := range sc.ConfigStrings("drop_patterns") {
		re, err := regexp.Compile(p)
		if err != nil {
			return api.StepResult{}, fmt.Errorf("rule-filter: drop pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	var short, long, matched int
	out := make([]api.Item, 0, len(items))
items:
	for _, it := range items {
		n := len(tokens(it.Content))
		if n < minTokens {
			short++
			continue
		}
		if maxTokens > 0 && n > maxTokens {
			long++
			continue
		}
		for _, re := range patterns {
			if re.MatchString(it.Content) {
				matched++
				continue items
			}
		}
		out = append(out, it.Clone())
	}

	return api.StepResult{
		Items: out,
		Metrics: map[string]any{
			"dropped_short":   short,
			"dropped_long":    long,
			"dropped_pattern": matched,
		},
	}, nil
}
