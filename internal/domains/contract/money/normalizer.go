package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Flag marks something the normalizer noticed about the selected value.
// Flags are warnings: they travel with the result and end up in the audit trail.
type Flag string

const (
	FlagAmountNotSet       Flag = "amount_not_set"
	FlagConvertedFromCents Flag = "converted_from_cents"
	FlagExceedsCeiling     Flag = "exceeds_ceiling"
	FlagNegativeRejected   Flag = "negative_rejected"
)

// Message returns the user-facing text for a flag.
func (f Flag) Message() string {
	switch f {
	case FlagAmountNotSet:
		return "amount not set"
	case FlagConvertedFromCents:
		return "value looked like cents and was converted to dollars"
	case FlagExceedsCeiling:
		return "value exceeds the sanity ceiling and may be corrupted"
	case FlagNegativeRejected:
		return "negative amounts are not accepted"
	}
	return string(f)
}

const (
	DefaultCentsThreshold int64 = 10_000
	DefaultCeiling        int64 = 1_000_000
)

var ErrNegativeAmount = errors.New("negative amount")

// CandidateFields lists the financial fields in priority order, most structured first.
// Dotted names address nested objects.
var CandidateFields = []string{
	"summary.finalTotal",
	"summary.total",
	"financials.total",
	"totalAmount",
	"total",
	"totalPrice",
	"estimateAmount",
	"estimateTotal",
	"amount",
	"price",
}

// Result is the authoritative amount picked out of a financial record.
type Result struct {
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source,omitempty"`
	Raw    string          `json:"raw,omitempty"`
	Flags  []Flag          `json:"flags,omitempty"`
}

// HasFlag reports whether f was raised while normalizing.
func (r Result) HasFlag(f Flag) bool {
	for _, got := range r.Flags {
		if got == f {
			return true
		}
	}
	return false
}

// Warnings renders the flags as messages, skipping nothing.
func (r Result) Warnings() []string {
	out := make([]string, 0, len(r.Flags))
	for _, f := range r.Flags {
		out = append(out, f.Message())
	}
	return out
}

// Record turns the result back into a financial record. The amount is written
// with an explicit fraction so feeding it through Normalize again never
// triggers the cents heuristic.
func (r Result) Record() map[string]any {
	return map[string]any{"total": r.Amount.StringFixed(2)}
}

// MarshalJSON writes the amount with two fraction digits. A bare "15000"
// read back through NormalizeJSON would be taken for cents.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain: plain(r), Amount: r.Amount.StringFixed(2)})
}

// Normalizer reduces heterogeneous financial records to one amount in major units.
type Normalizer struct {
	centsThreshold decimal.Decimal
	ceiling        decimal.Decimal
}

// NewNormalizer builds a normalizer. Non-positive arguments fall back to the defaults.
func NewNormalizer(centsThreshold, ceiling int64) *Normalizer {
	if centsThreshold <= 0 {
		centsThreshold = DefaultCentsThreshold
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Normalizer{
		centsThreshold: decimal.NewFromInt(centsThreshold),
		ceiling:        decimal.NewFromInt(ceiling),
	}
}

// Default returns a normalizer with the default thresholds.
func Default() *Normalizer {
	return NewNormalizer(DefaultCentsThreshold, DefaultCeiling)
}

// Normalize takes the first present numeric candidate and returns it in dollars.
// A record with no numeric candidate yields zero with FlagAmountNotSet and no error.
func (n *Normalizer) Normalize(record map[string]any) (Result, error) {
	for _, field := range CandidateFields {
		v, ok := lookup(record, field)
		if !ok {
			continue
		}
		c, ok := parseCandidate(v)
		if !ok {
			continue
		}
		return n.apply(field, c)
	}

	return Result{Amount: decimal.Zero, Flags: []Flag{FlagAmountNotSet}}, nil
}

// NormalizeJSON decodes raw JSON (numbers kept exact) and normalizes it.
func (n *Normalizer) NormalizeJSON(raw []byte) (Result, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return n.Normalize(nil)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()

	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return Result{}, fmt.Errorf("decode financial record: %w", err)
	}
	return n.Normalize(record)
}

func (n *Normalizer) apply(field string, c candidate) (Result, error) {
	res := Result{Source: field, Raw: c.raw}

	if c.value.IsNegative() {
		res.Amount = decimal.Zero
		res.Flags = append(res.Flags, FlagNegativeRejected)
		return res, fmt.Errorf("%w: %s=%s", ErrNegativeAmount, field, c.raw)
	}

	// ceiling applies to the raw selected value
	if c.value.GreaterThan(n.ceiling) {
		res.Flags = append(res.Flags, FlagExceedsCeiling)
	}

	amount := c.value
	if c.whole && amount.GreaterThan(n.centsThreshold) {
		amount = amount.Div(decimal.NewFromInt(100))
		res.Flags = append(res.Flags, FlagConvertedFromCents)
	}

	res.Amount = amount.Round(2)
	return res, nil
}

type candidate struct {
	value decimal.Decimal
	// whole is set for untyped values with no fractional component;
	// only those are eligible for the cents heuristic.
	whole bool
	raw   string
}

func parseCandidate(v any) (candidate, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return candidate{value: x, raw: x.String()}, true
	case *decimal.Decimal:
		if x == nil {
			return candidate{}, false
		}
		return candidate{value: *x, raw: x.String()}, true
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case int:
		return fromInt(int64(x)), true
	case int32:
		return fromInt(int64(x)), true
	case int64:
		return fromInt(x), true
	case uint:
		return fromInt(int64(x)), true
	case uint32:
		return fromInt(int64(x)), true
	case uint64:
		if x > math.MaxInt64 {
			return candidate{}, false
		}
		return fromInt(int64(x)), true
	case json.Number:
		return fromString(x.String())
	case string:
		return fromString(x)
	}
	return candidate{}, false
}

func fromFloat(f float64) (candidate, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return candidate{}, false
	}
	d := decimal.NewFromFloat(f)
	return candidate{value: d, whole: f == math.Trunc(f), raw: d.String()}, true
}

func fromInt(i int64) candidate {
	return candidate{value: decimal.NewFromInt(i), whole: true, raw: fmt.Sprintf("%d", i)}
}

var stripper = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "")

func fromString(s string) (candidate, bool) {
	cleaned := stripper.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return candidate{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return candidate{}, false
	}
	return candidate{value: d, whole: !strings.Contains(cleaned, "."), raw: s}, true
}

func lookup(record map[string]any, path string) (any, bool) {
	if record == nil {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var cur any = record
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}
