package model

import "sort"

// Clause is an entry in the suggested legal clause catalog.
type Clause struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Mandatory bool   `json:"mandatory"`
}

// ClauseCatalog is the fixed set of clauses a contract can select from.
// Catalog authoring is handled elsewhere; this is the subset the core enforces.
var ClauseCatalog = []Clause{
	{ID: "scope_of_work", Title: "Scope of Work", Mandatory: true},
	{ID: "payment_terms", Title: "Payment Terms", Mandatory: true},
	{ID: "change_orders", Title: "Change Orders", Mandatory: true},
	{ID: "right_to_cancel", Title: "Three-Day Right to Cancel", Mandatory: true},
	{ID: "warranty", Title: "Workmanship Warranty"},
	{ID: "permits", Title: "Permits and Inspections"},
	{ID: "insurance", Title: "Insurance"},
	{ID: "dispute_resolution", Title: "Dispute Resolution"},
	{ID: "lien_notice", Title: "Mechanics Lien Notice"},
	{ID: "site_cleanup", Title: "Site Cleanup"},
	{ID: "force_majeure", Title: "Force Majeure"},
	{ID: "late_payment", Title: "Late Payment Fees"},
}

var clauseIndex = func() map[string]Clause {
	m := make(map[string]Clause, len(ClauseCatalog))
	for _, c := range ClauseCatalog {
		m[c.ID] = c
	}
	return m
}()

// LookupClause finds a clause by id.
func LookupClause(id string) (Clause, bool) {
	c, ok := clauseIndex[id]
	return c, ok
}

// MandatoryClauseIDs returns the clauses that can never be deselected.
func MandatoryClauseIDs() []string {
	var out []string
	for _, c := range ClauseCatalog {
		if c.Mandatory {
			out = append(out, c.ID)
		}
	}
	return out
}

// ResolveClauses unions the selection with the mandatory clauses and returns
// them in catalog order. Unknown ids are a validation error.
func ResolveClauses(selected []string) ([]string, error) {
	verr := &ValidationError{}
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if _, ok := clauseIndex[id]; !ok {
			verr.Add("legal_clauses", "unknown clause "+id)
			continue
		}
		chosen[id] = true
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	for _, id := range MandatoryClauseIDs() {
		chosen[id] = true
	}

	out := make([]string, 0, len(chosen))
	for id := range chosen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return catalogPos(out[i]) < catalogPos(out[j])
	})
	return out, nil
}

func catalogPos(id string) int {
	for i, c := range ClauseCatalog {
		if c.ID == id {
			return i
		}
	}
	return len(ClauseCatalog)
}
