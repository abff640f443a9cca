package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"stockwatch/internal/alerts/models"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/sentinel"
)

type alertStore interface {
	ListOpen(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	List(ctx context.Context, orgID id.OrganizationID) ([]*models.Alert, error)
	FindByID(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID) (*models.Alert, error)
	CreateIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)
	Execute(ctx context.Context, orgID id.OrganizationID, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error)
}

// storeContract is the behaviour every backend must share. Backend suites
// embed it and set store in SetupTest.
type storeContract struct {
	suite.Suite
	store alertStore
	now   time.Time
}

func (s *storeContract) newAlert(org id.OrganizationID, item id.ItemID, kind models.Kind) *models.Alert {
	expiry := s.now.AddDate(0, 0, 3)
	a, err := models.NewAlert(id.NewAlertID(), org, models.Finding{
		ItemID:           item,
		ItemName:         "Item " + string(item),
		Kind:             kind,
		ObservedQuantity: 2,
		ObservedExpiry:   &expiry,
	}, s.now)
	s.Require().NoError(err)
	return a
}

func dismiss(now time.Time) (func(*models.Alert) error, func(*models.Alert)) {
	return func(a *models.Alert) error { return a.CanDismiss() },
		func(a *models.Alert) { a.ApplyDismissal(now) }
}

func (s *storeContract) TestCreateIfAbsent() {
	ctx := context.Background()

	s.Run("creates and round-trips", func() {
		a := s.newAlert("org-1", "milk", models.KindNearExpiry)
		created, err := s.store.CreateIfAbsent(ctx, a)
		s.Require().NoError(err)
		s.True(created)

		got, err := s.store.FindByID(ctx, "org-1", a.ID)
		s.Require().NoError(err)
		s.Equal(a.ID, got.ID)
		s.Equal(a.Key(), got.Key())
		s.Equal("Item milk", got.ItemName)
		s.Equal(2, got.Quantity)
		s.Require().NotNil(got.ExpiryDate)
		s.WithinDuration(*a.ExpiryDate, *got.ExpiryDate, time.Microsecond)
		s.WithinDuration(a.CreatedAt, got.CreatedAt, time.Microsecond)
		s.Equal(models.StatusNew, got.Status)
		s.Nil(got.DismissedAt)
	})

	s.Run("second open alert for the key is skipped", func() {
		dup := s.newAlert("org-1", "milk", models.KindNearExpiry)
		created, err := s.store.CreateIfAbsent(ctx, dup)
		s.Require().NoError(err)
		s.False(created)

		_, err = s.store.FindByID(ctx, "org-1", dup.ID)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("other kind and other organization are independent", func() {
		created, err := s.store.CreateIfAbsent(ctx, s.newAlert("org-1", "milk", models.KindLowStock))
		s.Require().NoError(err)
		s.True(created)

		created, err = s.store.CreateIfAbsent(ctx, s.newAlert("org-2", "milk", models.KindNearExpiry))
		s.Require().NoError(err)
		s.True(created)
	})
}

func (s *storeContract) TestConcurrentCreateYieldsOneOpenAlert() {
	ctx := context.Background()
	const writers = 20

	candidates := make([]*models.Alert, writers)
	for i := range candidates {
		candidates[i] = s.newAlert("org-1", "eggs", models.KindLowStock)
	}

	var wg sync.WaitGroup
	var createdCount, failed atomic.Int32
	for _, a := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.store.CreateIfAbsent(ctx, a)
			switch {
			case err != nil:
				failed.Add(1)
			case created:
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(0), failed.Load(), "losers are skipped, not failed")
	s.Equal(int32(1), createdCount.Load())
	open, err := s.store.ListOpen(ctx, "org-1")
	s.Require().NoError(err)
	s.Len(open, 1)
}

func (s *storeContract) TestExecuteDismissal() {
	ctx := context.Background()
	a := s.newAlert("org-1", "eggs", models.KindLowStock)
	_, err := s.store.CreateIfAbsent(ctx, a)
	s.Require().NoError(err)

	validate, mutate := dismiss(s.now.Add(time.Minute))

	s.Run("wrong organization is not found", func() {
		_, err := s.store.Execute(ctx, "org-2", a.ID, validate, mutate)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("unknown alert is not found", func() {
		_, err := s.store.Execute(ctx, "org-1", id.NewAlertID(), validate, mutate)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("dismisses an open alert", func() {
		got, err := s.store.Execute(ctx, "org-1", a.ID, validate, mutate)
		s.Require().NoError(err)
		s.Equal(models.StatusDismissed, got.Status)
		s.Require().NotNil(got.DismissedAt)

		open, err := s.store.ListOpen(ctx, "org-1")
		s.Require().NoError(err)
		s.Empty(open)

		all, err := s.store.List(ctx, "org-1")
		s.Require().NoError(err)
		s.Require().Len(all, 1)
		s.Equal(models.StatusDismissed, all[0].Status)
	})

	s.Run("validation failure leaves the alert untouched", func() {
		_, err := s.store.Execute(ctx, "org-1", a.ID, validate, mutate)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))

		got, err := s.store.FindByID(ctx, "org-1", a.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDismissed, got.Status)
	})

	s.Run("key is free again after dismissal", func() {
		again := s.newAlert("org-1", "eggs", models.KindLowStock)
		created, err := s.store.CreateIfAbsent(ctx, again)
		s.Require().NoError(err)
		s.True(created)
		s.NotEqual(a.ID, again.ID)
	})
}

func (s *storeContract) TestConcurrentDismissSucceedsOnce() {
	ctx := context.Background()
	a := s.newAlert("org-1", "bread", models.KindLowStock)
	_, err := s.store.CreateIfAbsent(ctx, a)
	s.Require().NoError(err)

	validate, mutate := dismiss(s.now)
	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, "org-1", a.ID, validate, mutate)
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidStateTransition):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), ok.Load())
	s.Equal(int32(9), rejected.Load())
}

func (s *storeContract) TestListOrdering() {
	ctx := context.Background()
	later := s.newAlert("org-1", "a", models.KindLowStock)
	later.CreatedAt = s.now.Add(time.Hour)
	earlier := s.newAlert("org-1", "z", models.KindLowStock)

	_, err := s.store.CreateIfAbsent(ctx, later)
	s.Require().NoError(err)
	_, err = s.store.CreateIfAbsent(ctx, earlier)
	s.Require().NoError(err)

	open, err := s.store.ListOpen(ctx, "org-1")
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(earlier.ID, open[0].ID)
	s.Equal(later.ID, open[1].ID)

	empty, err := s.store.ListOpen(ctx, "org-unknown")
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)
}
