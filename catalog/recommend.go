// catalog/recommend.go

package catalog

import "math/rand"

// MaxRecommendations caps Recommend.
const MaxRecommendations = 5

// Recommend picks up to n random in-stock products whose ids are not in
// exclude. n is capped at MaxRecommendations; n <= 0 yields none.
func (c *Catalog) Recommend(exclude []string, n int, rnd *rand.Rand) []Product {
	if n > MaxRecommendations {
		n = MaxRecommendations
	}
	if n < 0 {
		n = 0
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var candidates []Product
	for _, p := range c.products {
		if p.InStock && !skip[p.ID] {
			candidates = append(candidates, p)
		}
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]Product, 0, n)
	for _, i := range rnd.Perm(len(candidates))[:n] {
		out = append(out, candidates[i])
	}
	return out
}
