package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/money"
)

func TestDraftService_FirstSaveMintsIDThenUpserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.drafts.Save(ctx, f.owner, validDraft())
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEqual(t, uuid.Nil, first.ContractID)
	assert.Equal(t, model.StatusDraft, first.Status)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.Total.Equal(decimal.NewFromInt(12000)))

	req := validDraft()
	req.ContractID = &first.ContractID
	req.Title = "Front yard picket fence"
	second, err := f.drafts.Save(ctx, f.owner, req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ContractID, second.ContractID)
	assert.Equal(t, 2, second.Version)

	list, err := f.query.ListDrafts(ctx, f.owner, model.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestDraftService_LoadRebuildsForm(t *testing.T) {
	f := newFixture(t)
	id := f.saveDraft(t, nil)

	form, err := f.drafts.Load(context.Background(), f.owner, id)
	require.NoError(t, err)

	assert.Equal(t, "Backyard cedar fence", form.Title)
	assert.Equal(t, "Dana Client", form.Client.Name)
	assert.JSONEq(t, `{"summary":{"finalTotal":"12000.00"}}`, string(form.FinancialInput))
	require.Len(t, form.Milestones, 2)
	assert.True(t, form.Milestones[0].Amount.Equal(decimal.NewFromInt(6000)))
	assert.True(t, form.Milestones[1].Amount.Equal(decimal.NewFromInt(6000)))
	assert.Equal(t, []string{"scope_of_work", "payment_terms", "change_orders", "right_to_cancel", "warranty"}, form.LegalClauses)
}

func TestDraftService_KeepsEditedMilestoneAmounts(t *testing.T) {
	f := newFixture(t)
	deposit := decimal.NewFromInt(3000)
	rest := decimal.NewFromInt(9000)

	id := f.saveDraft(t, func(r *model.SaveDraftRequest) {
		r.Milestones = []model.MilestoneRequest{
			{Description: "Deposit", Percentage: decPct(25), Amount: &deposit},
			{Description: "Balance", Percentage: decPct(75), Amount: &rest},
		}
	})

	form, err := f.drafts.Load(context.Background(), f.owner, id)
	require.NoError(t, err)
	assert.True(t, form.Milestones[0].Amount.Equal(deposit))
	assert.True(t, form.Milestones[1].Amount.Equal(rest))
}

func TestDraftService_NormalizationFlagsAreAudited(t *testing.T) {
	f := newFixture(t)

	req := validDraft()
	req.FinancialInput = json.RawMessage(`{"total":150000}`)
	res, err := f.drafts.Save(context.Background(), f.owner, req)
	require.NoError(t, err)

	assert.True(t, res.Total.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, []string{money.FlagConvertedFromCents.Message()}, res.Warnings)

	events := f.events(t, res.ContractID, model.EventNormalization)
	require.Len(t, events, 1)
	assert.True(t, strings.HasPrefix(events[0].Detail, string(money.FlagConvertedFromCents)))
	require.NotNil(t, events[0].Actor)
	assert.Equal(t, f.owner, *events[0].Actor)
}

func TestDraftService_MissingAmountIsWarningNotError(t *testing.T) {
	f := newFixture(t)

	req := validDraft()
	req.FinancialInput = nil
	res, err := f.drafts.Save(context.Background(), f.owner, req)
	require.NoError(t, err)

	assert.True(t, res.Total.IsZero())
	assert.Equal(t, []string{money.FlagAmountNotSet.Message()}, res.Warnings)
}

func TestDraftService_NegativeAmountIsValidationError(t *testing.T) {
	f := newFixture(t)

	req := validDraft()
	req.FinancialInput = json.RawMessage(`{"total":-250}`)
	_, err := f.drafts.Save(context.Background(), f.owner, req)

	require.ErrorIs(t, err, model.ErrValidation)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "financial_input", verr.Fields[0].Field)
}

func TestDraftService_RequestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		edit  func(*model.SaveDraftRequest)
		field string
	}{
		{"bad client email", func(r *model.SaveDraftRequest) { r.Client.Email = "not-an-email" }, "client.email"},
		{"unknown clause", func(r *model.SaveDraftRequest) { r.LegalClauses = []string{"moon_rights"} }, "legal_clauses"},
		{"financial input not an object", func(r *model.SaveDraftRequest) { r.FinancialInput = json.RawMessage(`[1,2]`) }, "financial_input"},
		{"nil contract id", func(r *model.SaveDraftRequest) { r.ContractID = &uuid.Nil }, "contract_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validDraft()
			tt.edit(&req)
			_, err := f.drafts.Save(context.Background(), f.owner, req)

			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestDraftService_RejectsSaveOnceGenerated(t *testing.T) {
	f := newFixture(t)
	id, _, _ := f.generated(t)

	req := validDraft()
	req.ContractID = &id
	_, err := f.drafts.Save(context.Background(), f.owner, req)

	assert.ErrorIs(t, err, model.ErrContractNotEditable)
}

func TestDraftService_OtherOwnerCannotLoadOrOverwrite(t *testing.T) {
	f := newFixture(t)
	id := f.saveDraft(t, nil)
	intruder := uuid.New()

	_, err := f.drafts.Load(context.Background(), intruder, id)
	assert.ErrorIs(t, err, model.ErrContractNotFound)

	req := validDraft()
	req.ContractID = &id
	_, err = f.drafts.Save(context.Background(), intruder, req)
	assert.ErrorIs(t, err, model.ErrContractNotFound)

	form, err := f.drafts.Load(context.Background(), f.owner, id)
	require.NoError(t, err)
	assert.Equal(t, 1, form.Version)
}

func TestDraftService_UnknownIDIsNotCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chosen := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	req := validDraft()
	req.ContractID = &chosen
	res, err := f.drafts.Save(ctx, f.owner, req)
	assert.ErrorIs(t, err, model.ErrContractNotFound)
	assert.Nil(t, res)

	_, err = f.repo.GetByID(ctx, chosen)
	assert.ErrorIs(t, err, model.ErrContractNotFound)

	list, err := f.query.ListDrafts(ctx, f.owner, model.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
}

func TestDraftService_SaveInvalidatesOwnerListCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saveDraft(t, nil)

	_, err := f.query.ListDrafts(ctx, f.owner, model.ListQuery{Page: 1, Limit: 20})
	require.NoError(t, err)
	key := listCacheKey(f.owner, model.ViewDrafts, 1, 20)
	require.True(t, f.cache.has(key))

	f.saveDraft(t, nil)
	assert.False(t, f.cache.has(key))
}
