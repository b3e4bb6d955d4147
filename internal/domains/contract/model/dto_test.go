package model

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/money"
)

func TestDraftTotals_SurviveNormalizeRoundTrip(t *testing.T) {
	n := money.Default()

	result := SaveDraftResult{ContractID: uuid.New(), Status: StatusDraft, Version: 3, Total: d("15000")}
	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total":"15000.00"`)

	res, err := n.NormalizeJSON(raw)
	require.NoError(t, err)
	assert.True(t, d("15000").Equal(res.Amount), "got %s", res.Amount)
	assert.False(t, res.HasFlag(money.FlagConvertedFromCents))

	c := &Contract{ID: uuid.New(), Status: StatusDraft, Financials: Financials{Total: d("25000.5")}}
	raw, err = json.Marshal(c.ToDraftForm())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total":"25000.50"`)

	res, err = n.NormalizeJSON(raw)
	require.NoError(t, err)
	assert.True(t, d("25000.50").Equal(res.Amount), "got %s", res.Amount)
	assert.False(t, res.HasFlag(money.FlagConvertedFromCents))

	var form DraftForm
	require.NoError(t, json.Unmarshal(raw, &form))
	assert.True(t, d("25000.5").Equal(form.Total))
	assert.Equal(t, c.ID, form.ContractID)
}
