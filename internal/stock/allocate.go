// Package stock implements the allocation algorithm that decomposes a
// requested sale quantity into deductions from loose-kg and boxed stock.
// It is pure: no I/O, no clock, decimal arithmetic only.
package stock

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRequest is returned when the requested quantity is empty or negative.
	ErrInvalidRequest = errors.New("requested quantity must be positive")
	// ErrInvalidRatio is returned when the product's box-to-kg ratio is not positive.
	ErrInvalidRatio = errors.New("box to kg ratio must be positive")
)

// InsufficientStockError reports that the request exceeds what the ledger
// holds. ShortageKg is the missing amount in kg-equivalent terms. No partial
// fulfillment is ever attempted.
type InsufficientStockError struct {
	ShortageKg decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: short %s kg", e.ShortageKg.String())
}

// Request is what the customer asked for: whole boxes and/or loose kilograms.
type Request struct {
	Boxes int64
	Kg    decimal.Decimal
}

// State is the ledger state the allocation runs against.
type State struct {
	LooseKg      decimal.Decimal
	Boxes        int64
	BoxToKgRatio decimal.Decimal
}

// TotalKg is the kg-equivalent of everything on hand.
func (s State) TotalKg() decimal.Decimal {
	return s.LooseKg.Add(decimal.NewFromInt(s.Boxes).Mul(s.BoxToKgRatio))
}

// Plan is the computed deduction. LooseKgConsumed is the gross draw from the
// loose pool before any converted surplus is returned; BoxesConsumed counts
// boxes removed from boxed stock, whether handed over whole or opened for kg.
// Steps is a human-readable trace for receipts and audit, not control flow.
type Plan struct {
	LooseKgConsumed decimal.Decimal `json:"loose_kg_consumed"`
	BoxesConsumed   int64           `json:"boxes_consumed"`
	NewLooseKg      decimal.Decimal `json:"new_loose_kg"`
	NewBoxes        int64           `json:"new_boxes"`
	Steps           []string        `json:"steps"`
}

// Allocate computes the deduction plan for req against state.
//
// Boxes are satisfied one-for-one from boxed stock only; boxes are never
// assembled out of loose kg. Kg is satisfied from loose stock first, then by
// converting the minimum whole number of boxes, with the rounding surplus
// returned to the loose pool. Total kg on hand plus kg handed to the customer
// is conserved across the operation.
func Allocate(req Request, state State) (Plan, error) {
	if req.Boxes < 0 || req.Kg.IsNegative() {
		return Plan{}, ErrInvalidRequest
	}
	if req.Boxes == 0 && !req.Kg.IsPositive() {
		return Plan{}, ErrInvalidRequest
	}
	if !state.BoxToKgRatio.IsPositive() {
		return Plan{}, ErrInvalidRatio
	}

	ratio := state.BoxToKgRatio
	neededKg := req.Kg.Add(decimal.NewFromInt(req.Boxes).Mul(ratio))
	availableKg := state.TotalKg()
	if neededKg.GreaterThan(availableKg) {
		return Plan{}, &InsufficientStockError{ShortageKg: neededKg.Sub(availableKg)}
	}

	plan := Plan{
		LooseKgConsumed: decimal.Zero,
		NewLooseKg:      state.LooseKg,
		NewBoxes:        state.Boxes,
	}

	// Whole boxes come straight off the shelf.
	if req.Boxes > 0 {
		if req.Boxes > plan.NewBoxes {
			short := decimal.NewFromInt(req.Boxes - plan.NewBoxes).Mul(ratio)
			return Plan{}, &InsufficientStockError{ShortageKg: short}
		}
		plan.NewBoxes -= req.Boxes
		plan.BoxesConsumed += req.Boxes
		plan.Steps = append(plan.Steps, fmt.Sprintf("deducted %d box(es) from boxed stock", req.Boxes))
	}

	if !req.Kg.IsPositive() {
		return plan, nil
	}

	// Loose stock first.
	remaining := req.Kg
	if state.LooseKg.IsPositive() {
		take := decimal.Min(remaining, state.LooseKg)
		plan.LooseKgConsumed = take
		plan.NewLooseKg = state.LooseKg.Sub(take)
		remaining = remaining.Sub(take)
		plan.Steps = append(plan.Steps, fmt.Sprintf("consumed %s kg from loose stock", take.String()))
	}
	if !remaining.IsPositive() {
		return plan, nil
	}

	// Open the minimum number of boxes to cover what is left. The full
	// converted amount joins the loose pool and the rounding surplus stays
	// there rather than being discarded.
	converted := remaining.Div(ratio).Ceil()
	toConvert := converted.IntPart()
	if toConvert > plan.NewBoxes {
		short := decimal.NewFromInt(toConvert - plan.NewBoxes).Mul(ratio)
		return Plan{}, &InsufficientStockError{ShortageKg: short}
	}
	convertedKg := converted.Mul(ratio)
	plan.NewBoxes -= toConvert
	plan.BoxesConsumed += toConvert
	plan.Steps = append(plan.Steps, fmt.Sprintf("converted %d box(es) into %s kg loose", toConvert, convertedKg.String()))

	surplus := convertedKg.Sub(remaining)
	plan.NewLooseKg = plan.NewLooseKg.Add(surplus)
	plan.Steps = append(plan.Steps, fmt.Sprintf("used %s kg of converted stock", remaining.String()))
	if surplus.IsPositive() {
		plan.Steps = append(plan.Steps, fmt.Sprintf("returned %s kg surplus to loose stock", surplus.String()))
	}
	return plan, nil
}
