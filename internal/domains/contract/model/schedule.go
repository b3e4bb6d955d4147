package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MilestoneInput is a milestone before amounts are computed.
type MilestoneInput struct {
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage"`
	DueNote     string          `json:"due_note,omitempty"`
}

// AllocateSchedule splits total across milestones by percentage. Amounts are
// rounded to cents and the rounding remainder lands on the last milestone, so
// the amounts always sum to total.
func AllocateSchedule(total decimal.Decimal, inputs []MilestoneInput) Milestones {
	if len(inputs) == 0 {
		return Milestones{}
	}

	out := make(Milestones, len(inputs))
	allocated := decimal.Zero
	for i, in := range inputs {
		out[i] = Milestone{
			Description: in.Description,
			Percentage:  in.Percentage,
			DueNote:     in.DueNote,
		}
		if i == len(inputs)-1 {
			out[i].Amount = total.Sub(allocated)
			break
		}
		amount := total.Mul(in.Percentage).Div(hundred).Round(2)
		out[i].Amount = amount
		allocated = allocated.Add(amount)
	}
	return out
}

// ValidateSchedule checks that percentages sum to 100 and amounts sum to total.
// Nothing is corrected: a mismatch is reported back to the editor.
func ValidateSchedule(total decimal.Decimal, milestones Milestones) error {
	verr := &ValidationError{}

	if len(milestones) == 0 {
		verr.Add("financials.milestones", "at least one payment milestone is required")
		return verr
	}

	pct := decimal.Zero
	sum := decimal.Zero
	for i, m := range milestones {
		if m.Description == "" {
			verr.Add(fmt.Sprintf("financials.milestones[%d].description", i), "description is required")
		}
		if !m.Percentage.IsPositive() {
			verr.Add(fmt.Sprintf("financials.milestones[%d].percentage", i), "percentage must be positive")
		}
		if m.Amount.IsNegative() {
			verr.Add(fmt.Sprintf("financials.milestones[%d].amount", i), "amount must not be negative")
		}
		pct = pct.Add(m.Percentage)
		sum = sum.Add(m.Amount)
	}

	if !pct.Equal(hundred) {
		verr.Add("financials.milestones", fmt.Sprintf("percentages sum to %s, expected 100", pct.String()))
	}
	if !sum.Equal(total) {
		verr.Add("financials.milestones", fmt.Sprintf("amounts sum to %s, expected %s", sum.StringFixed(2), total.StringFixed(2)))
	}

	return verr.OrNil()
}
