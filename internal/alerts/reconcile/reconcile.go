// Package reconcile decides how a set of findings changes the open alerts of
// an organization. Pure: the caller supplies the clock, the ID generator and
// the current open alerts, and persists the resulting plan.
package reconcile

import (
	"time"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
)

// Plan is the outcome of one reconciliation.
type Plan struct {
	// ToCreate holds new alerts for findings without an open alert.
	ToCreate []*models.Alert
	// Unchanged holds open alerts whose condition still holds. They are not refreshed.
	Unchanged []*models.Alert
	// Stale holds open alerts whose condition no longer holds. They stay open
	// until a user dismisses them.
	Stale []*models.Alert
}

// IDGenerator mints alert IDs.
type IDGenerator func() id.AlertID

type Reconciler struct {
	newID IDGenerator
}

func New(newID IDGenerator) *Reconciler {
	if newID == nil {
		newID = id.NewAlertID
	}
	return &Reconciler{newID: newID}
}

type itemKind struct {
	item id.ItemID
	kind models.Kind
}

// Reconcile matches findings against existing alerts. Only open alerts of
// orgID take part; anything else in existing is ignored. Duplicate findings
// for one (item, kind) produce a single creation.
func (r *Reconciler) Reconcile(orgID id.OrganizationID, findings []models.Finding, existing []*models.Alert, now time.Time) Plan {
	open := make(map[itemKind]*models.Alert, len(existing))
	order := make([]itemKind, 0, len(existing))
	for _, a := range existing {
		if a == nil || a.OrganizationID != orgID || !a.IsOpen() {
			continue
		}
		k := itemKind{a.ItemID, a.Kind}
		if _, dup := open[k]; dup {
			continue
		}
		open[k] = a
		order = append(order, k)
	}

	plan := Plan{}
	seen := make(map[itemKind]struct{}, len(findings))
	for _, f := range findings {
		k := itemKind{f.ItemID, f.Kind}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if a, ok := open[k]; ok {
			plan.Unchanged = append(plan.Unchanged, a)
			continue
		}
		alert, err := models.NewAlert(r.newID(), orgID, f, now)
		if err != nil {
			// malformed finding: nothing to raise
			continue
		}
		plan.ToCreate = append(plan.ToCreate, alert)
	}

	for _, k := range order {
		if _, ok := seen[k]; !ok {
			plan.Stale = append(plan.Stale, open[k])
		}
	}
	return plan
}
