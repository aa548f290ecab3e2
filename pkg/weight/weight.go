package weight

import (
	"errors"
	"math"
)

// Weight is an abstract execution-cost unit. Both page-touch overhead
// and message handling consume it.
type Weight uint64

// Max is an effectively unbounded budget.
const Max = Weight(math.MaxUint64)

// ErrOverBudget is returned by Consume when the requested cost would
// push the meter past its limit. The meter is left unchanged.
var ErrOverBudget = errors.New("weight: consume would exceed limit")

// Meter tracks consumption against a fixed limit for one invocation.
type Meter struct {
	limit    Weight
	consumed Weight
}

// NewMeter returns a meter with the given limit and nothing consumed.
func NewMeter(limit Weight) *Meter {
	return &Meter{limit: limit}
}

// CanAfford reports whether cost fits in the remaining budget.
func (m *Meter) CanAfford(cost Weight) bool {
	return m.consumed+cost >= m.consumed && m.consumed+cost <= m.limit
}

// Consume adds cost to the consumed counter. It fails without mutating
// the meter if the cost cannot be afforded.
func (m *Meter) Consume(cost Weight) error {
	if !m.CanAfford(cost) {
		return ErrOverBudget
	}
	m.consumed += cost
	return nil
}

// Remaining returns the unspent budget.
func (m *Meter) Remaining() Weight {
	return m.limit - m.consumed
}

// Consumed returns the total weight spent so far.
func (m *Meter) Consumed() Weight {
	return m.consumed
}

// Limit returns the fixed budget the meter was created with.
func (m *Meter) Limit() Weight {
	return m.limit
}
