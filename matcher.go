/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// matchThreshold is the minimum similarity score for a guess to count as a
// known place. A dropped or doubled letter in a medium-length name scores
// around 0.8 under bigram similarity, so anything stricter starts rejecting
// the typos this matcher exists to forgive.
const matchThreshold = 0.80

// Matcher resolves raw player input to the closest gazetteer entry using
// bigram (Sorensen-Dice) similarity. It is stateless with respect to games:
// duplicate-guess rejection belongs to the room, not here.
type Matcher struct {
	gazetteer *Gazetteer
	metric    *metrics.SorensenDice
}

func newMatcher(g *Gazetteer) *Matcher {
	return &Matcher{
		gazetteer: g,
		metric:    metrics.NewSorensenDice(),
	}
}

// Lookup returns the best-matching place and its score. The boolean is false
// when no entry scores at or above matchThreshold.
func (m *Matcher) Lookup(raw string) (Place, float64, bool) {
	key := normalizePlace(raw)
	if key == "" {
		return Place{}, 0, false
	}

	// An exact normalized hit short-circuits the scan with a perfect score.
	if place, ok := m.gazetteer.get(key); ok {
		return place, 1, true
	}

	best := ""
	bestScore := 0.0

	for _, candidate := range m.gazetteer.keys {
		score := strutil.Similarity(key, candidate, m.metric)
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	if bestScore < matchThreshold {
		return Place{}, bestScore, false
	}

	place, _ := m.gazetteer.get(best)

	return place, bestScore, true
}
