package signal

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"forexbot/internal/market"

	"github.com/tidwall/gjson"
)

// Aggregator normalizes raw model output into Signals and combines
// same-instrument batches into one actionable signal per cycle.
//
// Combination policy: strength is a weighted average using the per-model
// weights (unlisted models weigh 1.0), direction is the sign of the
// combined strength, and anything below MinStrength collapses to flat.
type Aggregator struct {
	registry    *market.Registry
	weights     map[string]float64
	minStrength float64
}

func NewAggregator(registry *market.Registry, weights map[string]float64, minStrength float64) *Aggregator {
	w := make(map[string]float64, len(weights))
	for id, weight := range weights {
		w[id] = weight
	}
	if minStrength < 0 {
		minStrength = 0
	}
	return &Aggregator{registry: registry, weights: w, minStrength: minStrength}
}

// Ingest validates and parses one raw model output document. Malformed
// documents come back as *InvalidSignalError so callers can log and drop
// them without touching control flow.
func (a *Aggregator) Ingest(raw []byte) (Signal, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Signal{}, &InvalidSignalError{Reason: "not valid JSON"}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Signal{}, &InvalidSignalError{Reason: err.Error()}
	}

	parsed := gjson.ParseBytes(raw)
	modelID := parsed.Get("model_id").String()
	strength := parsed.Get("strength").Float()
	if math.IsNaN(strength) || strength < -1 || strength > 1 {
		return Signal{}, &InvalidSignalError{ModelID: modelID, Reason: "strength out of range"}
	}
	instrument := market.NormalizeID(parsed.Get("instrument").String())
	if _, ok := a.registry.Lookup(instrument); !ok {
		return Signal{}, &InvalidSignalError{ModelID: modelID, Reason: "unknown instrument " + instrument}
	}
	return Signal{
		Instrument: instrument,
		Time:       time.UnixMilli(parsed.Get("timestamp").Int()).UTC(),
		Direction:  directionFor(strength),
		Strength:   strength,
		ModelID:    modelID,
		Horizon:    parsed.Get("horizon").String(),
	}, nil
}

// Combine folds signals for the same instrument and timestamp into one.
// An empty batch or one whose combined strength falls below the
// threshold yields a flat signal, which is a no-trade, not an error.
func (a *Aggregator) Combine(signals []Signal) Signal {
	if len(signals) == 0 {
		return Signal{Direction: Flat}
	}
	first := signals[0]
	var weighted, totalWeight float64
	for _, s := range signals {
		w := a.weightFor(s.ModelID)
		weighted += s.Strength * w
		totalWeight += w
	}
	combined := Signal{
		Instrument: first.Instrument,
		Time:       first.Time,
		ModelID:    "combined",
		Horizon:    first.Horizon,
	}
	if totalWeight > 0 {
		combined.Strength = weighted / totalWeight
	}
	if math.Abs(combined.Strength) < a.minStrength {
		combined.Strength = 0
	}
	combined.Direction = directionFor(combined.Strength)
	return combined
}

// CombineBatch groups a mixed-instrument batch and combines each group,
// returning results ordered strongest first (instrument ID ascending on
// ties) so downstream processing is deterministic when margin is tight.
func (a *Aggregator) CombineBatch(signals []Signal) []Signal {
	groups := make(map[string][]Signal)
	var order []string
	for _, s := range signals {
		if _, seen := groups[s.Instrument]; !seen {
			order = append(order, s.Instrument)
		}
		groups[s.Instrument] = append(groups[s.Instrument], s)
	}
	out := make([]Signal, 0, len(order))
	for _, inst := range order {
		out = append(out, a.Combine(groups[inst]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Strength), math.Abs(out[j].Strength)
		if ai != aj {
			return ai > aj
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// SetWeights replaces the per-model weights. The caller serializes
// reconfiguration with combining; the aggregator itself has no lock.
func (a *Aggregator) SetWeights(weights map[string]float64) {
	w := make(map[string]float64, len(weights))
	for id, weight := range weights {
		w[id] = weight
	}
	a.weights = w
}

func (a *Aggregator) weightFor(modelID string) float64 {
	if w, ok := a.weights[modelID]; ok && w > 0 {
		return w
	}
	return 1.0
}
