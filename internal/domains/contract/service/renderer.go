package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"owlfenc-backend/internal/domains/contract/model"
)

// frozenDocument is the immutable snapshot both parties sign.
type frozenDocument struct {
	ContractID  uuid.UUID           `json:"contract_id"`
	Version     int                 `json:"version"`
	Title       string              `json:"title"`
	ProjectRef  string              `json:"project_ref,omitempty"`
	Contractor  model.PartySnapshot `json:"contractor"`
	Client      model.PartySnapshot `json:"client"`
	ScopeOfWork string              `json:"scope_of_work"`
	Total       decimal.Decimal     `json:"total"`
	Schedule    model.Milestones    `json:"payment_schedule"`
	Clauses     []model.Clause      `json:"clauses"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// SnapshotRenderer renders the contract as a JSON snapshot. Layout and
// templating belong to the document service downstream.
type SnapshotRenderer struct{}

func NewSnapshotRenderer() *SnapshotRenderer {
	return &SnapshotRenderer{}
}

func (r *SnapshotRenderer) Render(c *model.Contract, at time.Time) ([]byte, string, error) {
	doc := frozenDocument{
		ContractID:  c.ID,
		Version:     c.Version,
		Title:       c.Title,
		ProjectRef:  c.ProjectRef,
		Contractor:  c.Contractor,
		Client:      c.Client,
		ScopeOfWork: c.ScopeOfWork,
		Total:       c.Financials.Total,
		Schedule:    c.Financials.Milestones,
		GeneratedAt: at.UTC(),
	}

	for _, id := range c.LegalClauses {
		clause, ok := model.LookupClause(id)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", model.ErrUnknownClause, id)
		}
		doc.Clauses = append(doc.Clauses, clause)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal contract document: %w", err)
	}
	return data, "application/json", nil
}
