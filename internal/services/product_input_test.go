package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"katalog/internal/models"
	"katalog/internal/services"
)

func TestParseProductInput_FormValues(t *testing.T) {
	in, err := services.ParseProductInput(map[string]any{
		"name":         " Widget ",
		"price":        "9.99",
		"stock":        "08",
		"active":       "false",
		"weight":       "1.5",
		"tags":         "red, blue, ,red",
		"condition":    "USED",
		"userId":       "someone-else",
		"id":           "forged",
		"removeImages": "1700000000000-1.png",
	})
	require.NoError(t, err)

	p := &models.Product{UserID: "owner", ID: "real"}
	in.Apply(p)

	assert.Equal(t, "Widget", p.Name)
	assert.Equal(t, "9.99", p.Price.String())
	assert.Equal(t, 8, p.Stock)
	assert.False(t, p.Active)
	assert.Equal(t, "1.5", p.Weight.Decimal.String())
	assert.Equal(t, []string{"red", "blue"}, p.Tags)
	assert.Equal(t, models.ConditionUsed, p.Condition)
	assert.Equal(t, "owner", p.UserID)
	assert.Equal(t, "real", p.ID)
	assert.Equal(t, []string{"1700000000000-1.png"}, in.RemoveImages)
}

func TestParseProductInput_JSONValues(t *testing.T) {
	in, err := services.ParseProductInput(map[string]any{
		"price":  9.99,
		"stock":  float64(4),
		"active": true,
		"tags":   []any{"a", "b"},
		"weight": nil,
	})
	require.NoError(t, err)

	p := &models.Product{}
	in.Apply(p)
	assert.Equal(t, "9.99", p.Price.String())
	assert.Equal(t, 4, p.Stock)
	assert.True(t, p.Active)
	assert.Equal(t, []string{"a", "b"}, p.Tags)
	assert.False(t, p.Weight.Valid)
}

func TestParseProductInput_OmittedFieldsLeaveValues(t *testing.T) {
	in, err := services.ParseProductInput(map[string]any{"stock": "", "sku": ""})
	require.NoError(t, err)

	p := &models.Product{Stock: 7, SKU: "KEEP", Active: true, Tags: []string{"x"}}
	in.Apply(p)
	assert.Equal(t, 7, p.Stock)
	assert.Equal(t, "KEEP", p.SKU)
	assert.True(t, p.Active)
	assert.Equal(t, []string{"x"}, p.Tags)
}

func TestParseProductInput_RejectsUnparseable(t *testing.T) {
	_, err := services.ParseProductInput(map[string]any{
		"price":  "cheap",
		"stock":  "2.5",
		"active": "perhaps",
	})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, verr.Fields, "price")
	assert.Contains(t, verr.Fields, "stock")
	assert.Contains(t, verr.Fields, "active")

	_, err = services.ParseProductInput(map[string]any{"stock": 2.5})
	assert.ErrorIs(t, err, models.ErrValidation)
}
