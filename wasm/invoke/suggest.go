package invoke

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

const maxSuggestions = 3

// Scorer rates how close candidate is to query. Higher is closer.
type Scorer interface {
	Score(query, candidate string) float64
}

// LevenshteinScorer ranks by normalized edit distance, with names
// starting with the query ahead of everything else.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(query, candidate string) float64 {
	score := levenshtein.Similarity(query, candidate, nil)

	if query != "" && strings.HasPrefix(candidate, query) {
		score++
	}

	return score
}

// Suggest returns up to limit candidates ordered by score, ties broken by name.
func Suggest(scorer Scorer, candidates []string, query string, limit int) []string {
	if scorer == nil {
		scorer = LevenshteinScorer{}
	}

	type scored struct {
		name  string
		score float64
	}

	seen := make(map[string]bool, len(candidates))
	ranked := make([]scored, 0, len(candidates))

	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}

		seen[candidate] = true
		ranked = append(ranked, scored{name: candidate, score: scorer.Score(query, candidate)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}

		return ranked[i].name < ranked[j].name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	result := make([]string, len(ranked))
	for i, r := range ranked {
		result[i] = r.name
	}

	return result
}
