package market

import (
	"fmt"
	"math"
	"strings"
)

// Instrument carries the venue metadata needed to size and round orders.
// PipLocation follows the FX convention: pip size = 10^PipLocation, so
// EUR/USD has PipLocation -4.
type Instrument struct {
	ID           string  `json:"id"`
	PipLocation  int     `json:"pip_location"`
	MinTradeSize float64 `json:"min_trade_size"`
	QtyStep      float64 `json:"qty_step"`
}

// PipSize returns the price value of one pip for this instrument.
func (i Instrument) PipSize() float64 {
	return math.Pow(10, float64(i.PipLocation))
}

// Registry is an immutable lookup of tradable instruments, built once at
// session start from configuration.
type Registry struct {
	byID map[string]Instrument
	ids  []string
}

func NewRegistry(instruments []Instrument) (*Registry, error) {
	r := &Registry{byID: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		id := NormalizeID(inst.ID)
		if id == "" {
			return nil, fmt.Errorf("instrument with empty id")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", id)
		}
		inst.ID = id
		if inst.QtyStep <= 0 {
			inst.QtyStep = 1
		}
		if inst.MinTradeSize <= 0 {
			inst.MinTradeSize = inst.QtyStep
		}
		r.byID[id] = inst
		r.ids = append(r.ids, id)
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (Instrument, bool) {
	inst, ok := r.byID[NormalizeID(id)]
	return inst, ok
}

// IDs returns instrument IDs in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// NormalizeID canonicalizes an instrument identifier: upper case, slash
// separator ("eur_usd" -> "EUR/USD").
func NormalizeID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	return strings.ReplaceAll(id, "_", "/")
}
