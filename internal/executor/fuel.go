package executor

import "fmt"

// FuelMeter tracks WASM instruction-cost consumption against a per-call
// budget.
type FuelMeter struct {
	used  uint64
	limit uint64
}

// NewFuelMeter constructs a meter with limit units available.
func NewFuelMeter(limit uint64) *FuelMeter {
	return &FuelMeter{limit: limit}
}

// Consume charges n units, failing if it would exceed the limit.
func (m *FuelMeter) Consume(n uint64) error {
	if m.used+n > m.limit {
		return fmt.Errorf("executor: out of fuel (%d/%d)", m.used+n, m.limit)
	}
	m.used += n
	return nil
}

// Remaining returns the unconsumed fuel budget.
func (m *FuelMeter) Remaining() uint64 { return m.limit - m.used }

// Used returns fuel consumed so far.
func (m *FuelMeter) Used() uint64 { return m.used }
