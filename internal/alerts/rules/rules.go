// Package rules decides which inventory items are at risk.
// This is pure domain logic - no I/O, no side effects.
package rules

import (
	"sort"
	"time"

	"stockwatch/internal/alerts/models"
	invmodels "stockwatch/internal/inventory/models"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
)

const (
	DefaultLowStockThreshold = 5
	DefaultExpiryWindowDays  = 7
)

// Config holds the thresholds. Equal-to-threshold quantity is not low stock.
type Config struct {
	LowStockThreshold int
	ExpiryWindowDays  int
}

func DefaultConfig() Config {
	return Config{
		LowStockThreshold: DefaultLowStockThreshold,
		ExpiryWindowDays:  DefaultExpiryWindowDays,
	}
}

func (c Config) Validate() error {
	if c.LowStockThreshold < 0 {
		return dErrors.New(dErrors.CodeConfiguration, "low stock threshold must not be negative")
	}
	if c.ExpiryWindowDays < 0 {
		return dErrors.New(dErrors.CodeConfiguration, "expiry window must not be negative")
	}
	return nil
}

// Evaluate returns every finding for items at now, sorted by (ItemID, Kind).
// An item can produce both kinds. Expiry has no lower bound: already expired
// items stay flagged until someone removes them from inventory.
func Evaluate(items []invmodels.InventoryItem, now time.Time, cfg Config) []models.Finding {
	horizon := now.AddDate(0, 0, cfg.ExpiryWindowDays)

	findings := make([]models.Finding, 0)
	for _, item := range items {
		if isLowStock(item, cfg) {
			findings = append(findings, newFinding(item, models.KindLowStock))
		}
		if isNearExpiry(item, horizon) {
			findings = append(findings, newFinding(item, models.KindNearExpiry))
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].ItemID != findings[j].ItemID {
			return findings[i].ItemID < findings[j].ItemID
		}
		return findings[i].Kind < findings[j].Kind
	})
	return findings
}

// AtRiskItem groups an item's findings for the summary prompt.
type AtRiskItem struct {
	ID         id.ItemID     `json:"id"`
	Name       string        `json:"name"`
	Quantity   int           `json:"quantity"`
	ExpiryDate *time.Time    `json:"expiryDate,omitempty"`
	Risks      []models.Kind `json:"risks"`
}

// AtRisk returns one entry per item with at least one finding, ordered by item ID.
func AtRisk(items []invmodels.InventoryItem, now time.Time, cfg Config) []AtRiskItem {
	byID := make(map[id.ItemID]invmodels.InventoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var out []AtRiskItem
	for _, f := range Evaluate(items, now, cfg) {
		if n := len(out); n > 0 && out[n-1].ID == f.ItemID {
			out[n-1].Risks = append(out[n-1].Risks, f.Kind)
			continue
		}
		item := byID[f.ItemID]
		out = append(out, AtRiskItem{
			ID:         item.ID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			ExpiryDate: item.ExpiryDate,
			Risks:      []models.Kind{f.Kind},
		})
	}
	return out
}

func isLowStock(item invmodels.InventoryItem, cfg Config) bool {
	return item.Quantity < cfg.LowStockThreshold
}

func isNearExpiry(item invmodels.InventoryItem, horizon time.Time) bool {
	return item.ExpiryDate != nil && !item.ExpiryDate.After(horizon)
}

func newFinding(item invmodels.InventoryItem, kind models.Kind) models.Finding {
	f := models.Finding{
		ItemID:           item.ID,
		ItemName:         item.Name,
		Kind:             kind,
		ObservedQuantity: item.Quantity,
	}
	if item.ExpiryDate != nil {
		e := *item.ExpiryDate
		f.ObservedExpiry = &e
	}
	return f
}
