package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stockwatch/internal/alerts/events"
	"stockwatch/internal/alerts/metrics"
	"stockwatch/internal/alerts/models"
	"stockwatch/internal/alerts/service/mocks"
	"stockwatch/internal/alerts/store"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/platform/sentinel"
	"stockwatch/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,EventPublisher,ChangeNotifier

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func lowStock(item id.ItemID, qty int) models.Finding {
	return models.Finding{ItemID: item, ItemName: "Item " + string(item), Kind: models.KindLowStock, ObservedQuantity: qty}
}

func nearExpiry(item id.ItemID, expiry time.Time) models.Finding {
	return models.Finding{ItemID: item, ItemName: "Item " + string(item), Kind: models.KindNearExpiry, ObservedQuantity: 10, ObservedExpiry: &expiry}
}

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *store.InMemoryStore
	sink     *events.MemorySink
	notifier *mocks.MockChangeNotifier
	service  *Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemoryStore()
	s.sink = events.NewMemorySink()
	s.notifier = mocks.NewMockChangeNotifier(s.ctrl)
	s.service = New(s.store,
		WithEventPublisher(events.NewPublisher(s.sink)),
		WithChangeNotifier(s.notifier),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	s.ctx = requestcontext.WithTime(context.Background(), t0)
}

func (s *ServiceSuite) TestApplyFindings() {
	s.Run("creates one alert per finding", func() {
		out, err := s.service.ApplyFindings(s.ctx, "org-1", []models.Finding{
			lowStock("milk", 2),
			nearExpiry("milk", t0.AddDate(0, 0, 2)),
		})
		s.Require().NoError(err)
		s.Len(out.Created, 2)
		s.Empty(out.Skipped)
		s.Len(out.Open, 2)
		for _, a := range out.Created {
			s.Equal(models.StatusNew, a.Status)
			s.Equal(t0, a.CreatedAt)
		}
		s.Len(s.sink.Events(), 2)
	})

	s.Run("persisting condition leaves the alert untouched", func() {
		before, err := s.service.ListOpen(s.ctx, "org-1")
		s.Require().NoError(err)

		later := requestcontext.WithTime(context.Background(), t0.Add(time.Hour))
		out, err := s.service.ApplyFindings(later, "org-1", []models.Finding{
			lowStock("milk", 1),
			nearExpiry("milk", t0.AddDate(0, 0, 2)),
		})
		s.Require().NoError(err)
		s.Empty(out.Created)
		s.ElementsMatch(ids(before), ids(out.Open))
		for _, a := range out.Open {
			if a.Kind == models.KindLowStock {
				s.Equal(2, a.Quantity, "snapshot is not refreshed")
			}
		}
		s.Len(s.sink.Events(), 2)
	})

	s.Run("cleared condition is reported stale but stays open", func() {
		out, err := s.service.ApplyFindings(s.ctx, "org-1", []models.Finding{lowStock("milk", 1)})
		s.Require().NoError(err)
		s.Require().Len(out.Stale, 1)
		s.Equal(models.KindNearExpiry, out.Stale[0].Kind)
		s.Len(out.Open, 2)
	})
}

func (s *ServiceSuite) TestDismissThenRecurrence() {
	out, err := s.service.ApplyFindings(s.ctx, "org-1", []models.Finding{lowStock("eggs", 1)})
	s.Require().NoError(err)
	first := out.Created[0]

	s.notifier.EXPECT().AlertsChanged(gomock.Any(), id.OrganizationID("org-1"), gomock.Any()).
		Do(func(ctx context.Context, _ id.OrganizationID, load func(context.Context) ([]*models.Alert, error)) {
			open, err := load(ctx)
			s.NoError(err)
			s.Empty(open)
		})
	dismissed, err := s.service.Dismiss(requestcontext.WithTime(context.Background(), t0.Add(time.Minute)), "org-1", first.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDismissed, dismissed.Status)
	s.Require().NotNil(dismissed.DismissedAt)
	s.Equal(t0.Add(time.Minute), *dismissed.DismissedAt)

	out, err = s.service.ApplyFindings(s.ctx, "org-1", []models.Finding{lowStock("eggs", 1)})
	s.Require().NoError(err)
	s.Require().Len(out.Created, 1)
	s.NotEqual(first.ID, out.Created[0].ID)

	history, err := s.service.List(s.ctx, "org-1")
	s.Require().NoError(err)
	s.Len(history, 2)

	types := make([]events.Type, 0)
	for _, e := range s.sink.Events() {
		types = append(types, e.Type)
	}
	s.Equal([]events.Type{events.TypeAlertCreated, events.TypeAlertDismissed, events.TypeAlertCreated}, types)
}

func (s *ServiceSuite) TestDismissRejections() {
	out, err := s.service.ApplyFindings(s.ctx, "org-1", []models.Finding{lowStock("eggs", 1)})
	s.Require().NoError(err)
	alert := out.Created[0]

	s.Run("other organization", func() {
		_, err := s.service.Dismiss(s.ctx, "org-2", alert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	s.Run("unknown alert", func() {
		_, err := s.service.Dismiss(s.ctx, "org-1", id.NewAlertID())
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	s.Run("second dismissal", func() {
		s.notifier.EXPECT().AlertsChanged(gomock.Any(), gomock.Any(), gomock.Any()).Times(1)
		_, err := s.service.Dismiss(s.ctx, "org-1", alert.ID)
		s.Require().NoError(err)

		_, err = s.service.Dismiss(s.ctx, "org-1", alert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

func (s *ServiceSuite) TestConcurrentPassesCreateOneAlertPerKey() {
	findings := []models.Finding{lowStock("flour", 0), nearExpiry("flour", t0)}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.ApplyFindings(s.ctx, "org-1", findings)
			s.NoError(err)
		}()
	}
	wg.Wait()

	open, err := s.service.ListOpen(s.ctx, "org-1")
	s.Require().NoError(err)
	s.Len(open, 2)
	s.Len(s.sink.Events(), 2)
}

func ids(alerts []*models.Alert) []id.AlertID {
	out := make([]id.AlertID, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.ID)
	}
	return out
}

func TestService_StoreErrors(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), t0)

	t.Run("list failure is transient", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().ListOpen(gomock.Any(), id.OrganizationID("org-1")).Return(nil, errors.New("connection refused"))

		_, err := New(st).ApplyFindings(ctx, "org-1", []models.Finding{lowStock("a", 1)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransientIO))
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().ListOpen(gomock.Any(), gomock.Any()).Return(nil, context.DeadlineExceeded)

		_, err := New(st).ListOpen(ctx, "org-1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("create failure aborts the pass", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().ListOpen(gomock.Any(), gomock.Any()).Return(nil, nil)
		st.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(false, errors.New("disk full"))

		_, err := New(st).ApplyFindings(ctx, "org-1", []models.Finding{lowStock("a", 1), lowStock("b", 1)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransientIO))
	})

	t.Run("lost creation race is skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		pub := mocks.NewMockEventPublisher(ctrl)
		st.EXPECT().ListOpen(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
		st.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(false, nil)

		out, err := New(st, WithEventPublisher(pub)).ApplyFindings(ctx, "org-1", []models.Finding{lowStock("a", 1)})
		require.NoError(t, err)
		assert.Empty(t, out.Created)
		assert.Len(t, out.Skipped, 1)
	})

	t.Run("dismiss store failure is transient", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("tx aborted"))

		_, err := New(st).Dismiss(ctx, "org-1", id.NewAlertID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTransientIO))
	})

	t.Run("dismiss not found is an invalid transition", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		_, err := New(st).Dismiss(ctx, "org-1", id.NewAlertID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	t.Run("dismissal survives failed reload and publish", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		pub := mocks.NewMockEventPublisher(ctrl)
		notifier := mocks.NewMockChangeNotifier(ctrl)
		alert, err := models.NewAlert(id.NewAlertID(), "org-1", lowStock("a", 1), t0)
		require.NoError(t, err)
		alert.ApplyDismissal(t0)

		st.EXPECT().Execute(gomock.Any(), id.OrganizationID("org-1"), alert.ID, gomock.Any(), gomock.Any()).Return(alert, nil)
		st.EXPECT().ListOpen(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
		notifier.EXPECT().AlertsChanged(gomock.Any(), id.OrganizationID("org-1"), gomock.Any()).
			Do(func(ctx context.Context, _ id.OrganizationID, load func(context.Context) ([]*models.Alert, error)) {
				_, err := load(ctx)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeTransientIO))
			})
		pub.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("buffer full"))

		got, err := New(st, WithEventPublisher(pub), WithChangeNotifier(notifier)).Dismiss(ctx, "org-1", alert.ID)
		require.NoError(t, err)
		assert.Equal(t, alert.ID, got.ID)
	})
}

func TestService_DeterministicIDs(t *testing.T) {
	fixed := id.NewAlertID()
	svc := New(store.NewInMemoryStore(), WithIDGenerator(func() id.AlertID { return fixed }))

	out, err := svc.ApplyFindings(requestcontext.WithTime(context.Background(), t0), "org-1", []models.Finding{lowStock("a", 1)})
	require.NoError(t, err)
	require.Len(t, out.Created, 1)
	assert.Equal(t, fixed, out.Created[0].ID)
}
