// Package rank implements the Ranker (spec.md section 4.C): deterministic
// scoring and best-offer selection across a non-empty multiset of offers
// against a single intent.
package rank

import (
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/meshprotocol/agent/pkg/meshtypes"
)

// Weights are the scoring coefficients of spec.md section 4.C step 3.
// Default weights sum to 1 but callers are not required to normalize.
type Weights struct {
	Reputation float64
	Fee        float64
	Speed      float64
}

// DefaultWeights matches spec.md's w_r=0.5, w_f=0.3, w_s=0.2.
func DefaultWeights() Weights {
	return Weights{Reputation: 0.5, Fee: 0.3, Speed: 0.2}
}

// DefaultTieWindow is the |S_best - S| band within which stakeAgeSeconds and
// createdAt break ties (spec.md section 4.C step 4b).
const DefaultTieWindow = 0.05

// LiveReputationFunc resolves an address's current on-chain (or local
// fallback) reputation. It must return (value, false) when the lookup
// fails or is unknown, per the open-question decision recorded in
// SPEC_FULL.md section 9: the live value always wins when available, and
// the offer's own snapshot is used only as a fallback.
type LiveReputationFunc func(address string) (int64, bool)

// scored pairs an offer with its working values for the duration of one
// Rank/SelectBest call.
type scored struct {
	offer      *meshtypes.Offer
	liveRep    int64
	fee        float64
	etaSeconds float64
	score      float64
}

// Rank scores every offer against intent and returns them sorted
// best-first per spec.md section 4.C step 4a (score descending, then live
// reputation descending) — it does not apply the tie-window secondary sort;
// callers that want the single winner should use SelectBest.
func Rank(offers []*meshtypes.Offer, live LiveReputationFunc, w Weights) []*meshtypes.Offer {
	if len(offers) == 0 {
		return nil
	}
	items := buildScored(offers, live, w)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].liveRep > items[j].liveRep
	})
	out := make([]*meshtypes.Offer, len(items))
	for i, it := range items {
		out[i] = it.offer
	}
	return out
}

// SelectBest implements the full selection of spec.md section 4.C step 4,
// including the tie-window secondary sort. offers must be non-empty.
func SelectBest(offers []*meshtypes.Offer, live LiveReputationFunc, w Weights, tieWindow float64) *meshtypes.Offer {
	if len(offers) == 0 {
		return nil
	}
	items := buildScored(offers, live, w)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].liveRep > items[j].liveRep
	})

	best := items[0].score
	tied := make([]scored, 0, len(items))
	for _, it := range items {
		if best-it.score <= tieWindow {
			tied = append(tied, it)
		}
	}
	sort.SliceStable(tied, func(i, j int) bool {
		if tied[i].offer.StakeAgeSeconds != tied[j].offer.StakeAgeSeconds {
			return tied[i].offer.StakeAgeSeconds > tied[j].offer.StakeAgeSeconds
		}
		return tied[i].offer.CreatedAt < tied[j].offer.CreatedAt
	})
	return tied[0].offer
}

func buildScored(offers []*meshtypes.Offer, live LiveReputationFunc, w Weights) []scored {
	items := make([]scored, len(offers))
	for i, o := range offers {
		rep := snapshotOrZero(o)
		if live != nil {
			if v, ok := live(o.FromAddress); ok {
				rep = v
			}
		}
		fee, _ := meshtypes.ParseDecimal(o.Fee)
		items[i] = scored{offer: o, liveRep: rep, fee: fee, etaSeconds: float64(ParseEtaSeconds(o.Eta))}
	}

	repMin, repMax := minMax(mapF(items, func(s scored) float64 { return float64(s.liveRep) }))
	feeMin, feeMax := minMax(mapF(items, func(s scored) float64 { return s.fee }))
	speed := make([]float64, len(items))
	for i, it := range items {
		if it.etaSeconds <= 0 {
			speed[i] = math.Inf(1) // eta=0/unknown is treated as max speed
		} else {
			speed[i] = 1 / it.etaSeconds
		}
	}
	speedMin, speedMax := minMax(speed)

	for i := range items {
		items[i].score = w.Reputation*normalize(float64(items[i].liveRep), repMin, repMax) +
			w.Fee*(1-normalize(items[i].fee, feeMin, feeMax)) +
			w.Speed*normalizeSpeed(speed[i], speedMin, speedMax)
	}
	return items
}

func snapshotOrZero(o *meshtypes.Offer) int64 {
	if o.Reputation != nil {
		return *o.Reputation
	}
	return 0
}

func mapF(items []scored, f func(scored) float64) []float64 {
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = f(it)
	}
	return out
}

func minMax(vs []float64) (float64, float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	min, max := vs[0], vs[0]
	for _, v := range vs[1:] {
		if !math.IsInf(v, 0) && v < min {
			min = v
		}
		if !math.IsInf(v, 1) && v > max {
			max = v
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 1
	}
	return (v - min) / (max - min)
}

// normalizeSpeed handles the eta=0 "unknown, max speed" case: an infinite
// speed value always normalizes to 1 regardless of the finite range.
func normalizeSpeed(v, min, max float64) float64 {
	if math.IsInf(v, 1) {
		return 1
	}
	return normalize(v, min, max)
}

var etaPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)\s*$`)

// ParseEtaSeconds parses an offer's eta duration string per spec.md section
// 4.C: "<num>[ms|s|sec|secs|m|min|mins|h|hr|hrs]", default unit seconds.
// Unparseable input returns 0, meaning "unknown, treat as max-speed".
func ParseEtaSeconds(eta string) int64 {
	m := etaPattern.FindStringSubmatch(eta)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil || n < 0 {
		return 0
	}
	unit := m[2]
	var mult float64
	switch unit {
	case "", "s", "sec", "secs":
		mult = 1
	case "ms":
		mult = 0.001
	case "m", "min", "mins":
		mult = 60
	case "h", "hr", "hrs":
		mult = 3600
	default:
		return 0
	}
	return int64(n * mult)
}
