package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"stockwatch/internal/analysis"
	"stockwatch/internal/analysis/handler/mocks"
	id "stockwatch/pkg/domain"
	dErrors "stockwatch/pkg/domain-errors"
	"stockwatch/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

type AnalysisHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestAnalysisHandlerSuite(t *testing.T) {
	suite.Run(t, new(AnalysisHandlerSuite))
}

func (s *AnalysisHandlerSuite) SetupTest() {
	s.service = mocks.NewMockService(gomock.NewController(s.T()))
	s.router = chi.NewRouter()
	New(s.service, 2*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *AnalysisHandlerSuite) post(path string) *http.Request {
	return testutil.NewRequest(s.T(), http.MethodPost, path)
}

func (s *AnalysisHandlerSuite) TestAvailable() {
	s.service.EXPECT().RunAnalysis(gomock.Any(), id.OrganizationID("org-1")).
		Return(&analysis.Result{Status: analysis.StatusAvailable, Analysis: "1. Milk"}, nil)

	rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis"))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.JSONEq(`{"success":true,"status":"available","analysis":"1. Milk"}`, rr.Body.String())
}

func (s *AnalysisHandlerSuite) TestUnavailable() {
	s.service.EXPECT().RunAnalysis(gomock.Any(), gomock.Any()).
		Return(&analysis.Result{Status: analysis.StatusUnavailable}, nil)

	rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis"))

	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.JSONEq(`{"success":true,"status":"unavailable"}`, rr.Body.String())
}

func (s *AnalysisHandlerSuite) TestTimeoutParameter() {
	s.Run("applies caller timeout", func() {
		s.service.EXPECT().RunAnalysis(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ id.OrganizationID) (*analysis.Result, error) {
				deadline, ok := ctx.Deadline()
				s.True(ok)
				s.WithinDuration(time.Now().Add(15*time.Second), deadline, 2*time.Second)
				return &analysis.Result{Status: analysis.StatusUnavailable}, nil
			})

		rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis?timeout=15s"))
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
	})

	s.Run("rejects malformed timeout", func() {
		rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis?timeout=soon"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("rejects timeout above the maximum", func() {
		rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis?timeout=10m"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})
}

func (s *AnalysisHandlerSuite) TestFailures() {
	s.Run("provider down", func() {
		s.service.EXPECT().RunAnalysis(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTransientIO, "summarization service unavailable"))

		rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, string(dErrors.CodeTransientIO))
	})

	s.Run("timed out", func() {
		s.service.EXPECT().RunAnalysis(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeTimeout, "analysis timed out"))

		rr := testutil.DoRequest(s.router, s.post("/organizations/org-1/analysis"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusGatewayTimeout, string(dErrors.CodeTimeout))
	})
}
