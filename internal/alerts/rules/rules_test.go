package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/alerts/models"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

func kinds(findings []models.Finding, item id.ItemID) []models.Kind {
	var out []models.Kind
	for _, f := range findings {
		if f.ItemID == item {
			out = append(out, f.Kind)
		}
	}
	return out
}

func TestEvaluate_Thresholds(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		item invmodels.InventoryItem
		want []models.Kind
	}{
		{"quantity below threshold", invmodels.InventoryItem{ID: "a", Quantity: 4}, []models.Kind{models.KindLowStock}},
		{"quantity equal to threshold", invmodels.InventoryItem{ID: "a", Quantity: 5}, nil},
		{"zero quantity", invmodels.InventoryItem{ID: "a", Quantity: 0}, []models.Kind{models.KindLowStock}},
		{"no expiry date", invmodels.InventoryItem{ID: "a", Quantity: 50}, nil},
		{"expiry exactly at window edge", invmodels.InventoryItem{ID: "a", Quantity: 50, ExpiryDate: at(now.AddDate(0, 0, 7))}, []models.Kind{models.KindNearExpiry}},
		{"expiry just past window", invmodels.InventoryItem{ID: "a", Quantity: 50, ExpiryDate: at(now.AddDate(0, 0, 7).Add(time.Second))}, nil},
		{"already expired", invmodels.InventoryItem{ID: "a", Quantity: 50, ExpiryDate: at(now.AddDate(0, 0, -30))}, []models.Kind{models.KindNearExpiry}},
		{"both risks", invmodels.InventoryItem{ID: "a", Quantity: 2, ExpiryDate: at(now.AddDate(0, 0, 3))}, []models.Kind{models.KindLowStock, models.KindNearExpiry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate([]invmodels.InventoryItem{tt.item}, now, cfg)
			assert.Equal(t, tt.want, kinds(got, "a"))
		})
	}
}

func TestEvaluate_FindingCarriesSnapshot(t *testing.T) {
	expiry := now.AddDate(0, 0, 1)
	items := []invmodels.InventoryItem{{ID: "milk", Name: "Milk", Quantity: 3, ExpiryDate: &expiry}}

	got := Evaluate(items, now, DefaultConfig())
	require.Len(t, got, 2)
	assert.Equal(t, "Milk", got[0].ItemName)
	assert.Equal(t, 3, got[0].ObservedQuantity)
	require.NotNil(t, got[1].ObservedExpiry)

	*items[0].ExpiryDate = now.AddDate(1, 0, 0)
	assert.Equal(t, now.AddDate(0, 0, 1), *got[1].ObservedExpiry, "finding does not alias the item")
}

func TestEvaluate_DeterministicOrder(t *testing.T) {
	items := []invmodels.InventoryItem{
		{ID: "c", Quantity: 1},
		{ID: "a", Quantity: 1, ExpiryDate: at(now)},
		{ID: "b", Quantity: 100},
	}
	first := Evaluate(items, now, DefaultConfig())
	reversed := []invmodels.InventoryItem{items[2], items[1], items[0]}
	second := Evaluate(reversed, now, DefaultConfig())

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, id.ItemID("a"), first[0].ItemID)
	assert.Equal(t, models.KindLowStock, first[0].Kind)
	assert.Equal(t, models.KindNearExpiry, first[1].Kind)
	assert.Equal(t, id.ItemID("c"), first[2].ItemID)
}

func TestEvaluate_EmptyInput(t *testing.T) {
	got := Evaluate(nil, now, DefaultConfig())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestEvaluate_CalendarDays(t *testing.T) {
	// a 7 day window across the spring DST change is 7 calendar days, not 168h
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	start := time.Date(2024, 3, 28, 12, 0, 0, 0, loc)
	edge := time.Date(2024, 4, 4, 12, 0, 0, 0, loc)
	got := Evaluate([]invmodels.InventoryItem{{ID: "a", Quantity: 10, ExpiryDate: &edge}}, start, DefaultConfig())
	assert.Len(t, got, 1)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.Validate(), "zero thresholds disable the rules")

	err := Config{LowStockThreshold: -1, ExpiryWindowDays: 7}.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))

	err = Config{LowStockThreshold: 5, ExpiryWindowDays: -1}.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestAtRisk_GroupsPerItem(t *testing.T) {
	items := []invmodels.InventoryItem{
		{ID: "bolts", Name: "Bolts", Quantity: 100},
		{ID: "milk", Name: "Milk", Quantity: 2, ExpiryDate: at(now.AddDate(0, 0, 2))},
		{ID: "eggs", Name: "Eggs", Quantity: 1},
	}
	got := AtRisk(items, now, DefaultConfig())
	require.Len(t, got, 2)
	assert.Equal(t, id.ItemID("eggs"), got[0].ID)
	assert.Equal(t, []models.Kind{models.KindLowStock}, got[0].Risks)
	assert.Equal(t, "Milk", got[1].Name)
	assert.Equal(t, []models.Kind{models.KindLowStock, models.KindNearExpiry}, got[1].Risks)

	assert.Empty(t, AtRisk(items[:1], now, DefaultConfig()))
}
