package model

import (
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidateForGeneration checks the fields a contract needs before it can leave
// draft: client identity, at least one milestone, a non-zero total and a
// consistent schedule. Every problem is collected, not just the first.
func ValidateForGeneration(c *Contract) error {
	verr := &ValidationError{}

	if strings.TrimSpace(c.Client.Name) == "" {
		verr.Add("client.name", "client name is required")
	}
	if strings.TrimSpace(c.Client.Email) == "" && strings.TrimSpace(c.Client.Phone) == "" {
		verr.Add("client.contact", "client email or phone is required")
	}
	if strings.TrimSpace(c.Contractor.Name) == "" {
		verr.Add("contractor.name", "contractor name is required")
	}

	if !c.Financials.Total.IsPositive() {
		verr.Add("financials.total", "a non-zero total is required")
	}

	if len(c.Financials.Milestones) == 0 {
		verr.Add("financials.milestones", "at least one payment milestone is required")
	} else if c.Financials.Total.IsPositive() {
		if err := ValidateSchedule(c.Financials.Total, c.Financials.Milestones); err != nil {
			if sched, ok := err.(*ValidationError); ok {
				verr.Fields = append(verr.Fields, sched.Fields...)
			}
		}
	}

	present := make(map[string]bool, len(c.LegalClauses))
	for _, id := range c.LegalClauses {
		present[id] = true
	}
	for _, id := range MandatoryClauseIDs() {
		if !present[id] {
			verr.Add("legal_clauses", "mandatory clause "+id+" is missing")
		}
	}

	return verr.OrNil()
}

// FromValidation converts ozzo validation errors into a ValidationError so
// request and generation problems share one shape. Other errors pass through.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}

	verr := &ValidationError{}
	flattenValidation("", errs, verr)
	sort.Slice(verr.Fields, func(i, j int) bool {
		return verr.Fields[i].Field < verr.Fields[j].Field
	})
	return verr.OrNil()
}

func flattenValidation(prefix string, errs validation.Errors, verr *ValidationError) {
	for field, fieldErr := range errs {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}

		var nested validation.Errors
		if errors.As(fieldErr, &nested) {
			flattenValidation(name, nested, verr)
			continue
		}
		verr.Add(name, fieldErr.Error())
	}
}
