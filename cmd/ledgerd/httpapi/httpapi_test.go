package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	golog "github.com/ipfs/go-log/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textileio/tender-core/ledger"
)

func init() {
	golog.SetAllLoggers(golog.LevelDebug)
}

func TestAPI_Projects(t *testing.T) {
	ms := &mockService{}
	mux := createMux(ms)
	ms.On("ListProjects", mock.Anything).Return([]ledger.ProjectID{"p1", "p2"}, nil)

	for _, url := range []string{"/projects", "/projects/"} {
		res := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		mux.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code)
		var projects []string
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &projects))
		require.Equal(t, []string{"p1", "p2"}, projects)
	}

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/projects", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAPI_ProjectBids(t *testing.T) {
	commitment := ledger.ComputeCommitment(100, "offer", "acme")
	headers := []ledger.BidHeader{{Bidder: "acme", Commitment: commitment, SubmittedAt: 7}}

	ms := &mockService{}
	mux := createMux(ms)
	ms.On("ListProjectBids", mock.Anything, ledger.ProjectID("p1")).Return(headers, nil)
	ms.On("ListProjectBids", mock.Anything, ledger.ProjectID("nope")).
		Return(nil, ledger.ErrProjectNotFound)

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/projects/p1/bids", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	var bids []bidHeaderJSON
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &bids))
	require.Len(t, bids, 1)
	require.Equal(t, "acme", bids[0].Bidder)
	require.Equal(t, hex.EncodeToString(commitment), bids[0].Commitment)
	require.Equal(t, uint64(7), bids[0].SubmittedAt)

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/projects/nope/bids", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusNotFound, res.Code)

	// ids with separators are addressed by escaping the segment
	ms.On("ListProjectBids", mock.Anything, ledger.ProjectID("a/b")).Return(headers, nil)
	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/projects/a%2Fb/bids", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &bids))
	require.Len(t, bids, 1)
}

func TestAPI_GetBid(t *testing.T) {
	commitment := ledger.ComputeCommitment(100, "offer", "acme")
	sealed := &ledger.BidRecord{Commitment: commitment}
	revealed := &ledger.BidRecord{
		Commitment:  commitment,
		Amount:      100,
		Description: "offer",
		Revealed:    true,
		RevealedAt:  9,
	}

	ms := &mockService{}
	mux := createMux(ms)
	ms.On("GetBid", mock.Anything, ledger.ProjectID("p1"), ledger.BidderID("acme")).Return(sealed, nil)
	ms.On("GetBid", mock.Anything, ledger.ProjectID("p1"), ledger.BidderID("emca")).Return(revealed, nil)
	ms.On("GetBid", mock.Anything, ledger.ProjectID("p1"), ledger.BidderID("nope")).
		Return(nil, ledger.ErrBidNotFound)
	ms.On("GetBid", mock.Anything, ledger.ProjectID("p1"), ledger.BidderID("boom")).
		Return(nil, errors.New("datastore unavailable"))
	ms.On("GetBid", mock.Anything, ledger.ProjectID("p1"), ledger.BidderID("gratis")).
		Return(&ledger.BidRecord{Commitment: commitment, Revealed: true}, nil)

	for _, tc := range []struct {
		name               string
		url                string
		expectedStatusCode int
		expectedRecord     *bidRecordJSON
	}{
		{"sealed bid hides content", "/projects/p1/bids/acme", http.StatusOK,
			&bidRecordJSON{Commitment: hex.EncodeToString(commitment)}},
		{"revealed bid shows content", "/projects/p1/bids/emca", http.StatusOK,
			&bidRecordJSON{
				Commitment:  hex.EncodeToString(commitment),
				Amount:      100,
				Description: "offer",
				Revealed:    true,
				RevealedAt:  9,
			}},
		{"revealed zero amount still shows content", "/projects/p1/bids/gratis", http.StatusOK,
			&bidRecordJSON{
				Commitment: hex.EncodeToString(commitment),
				Revealed:   true,
			}},
		{"bid not found", "/projects/p1/bids/nope", http.StatusNotFound, nil},
		{"internal error", "/projects/p1/bids/boom", http.StatusInternalServerError, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.url, nil)
			mux.ServeHTTP(res, req)
			require.Equal(t, tc.expectedStatusCode, res.Code)
			if tc.expectedRecord != nil {
				var rec bidRecordJSON
				require.NoError(t, json.Unmarshal(res.Body.Bytes(), &rec))
				require.Equal(t, *tc.expectedRecord, rec)
			}
		})
	}

	// amount and revealedAt are emitted even when zero; only the revealed
	// flag distinguishes sealed from revealed
	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/projects/p1/bids/gratis", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"amount":0`)
	require.Contains(t, res.Body.String(), `"revealedAt":0`)
	require.Contains(t, res.Body.String(), `"revealed":true`)
}

func TestAPI_AdminAndPaused(t *testing.T) {
	ms := &mockService{}
	mux := createMux(ms)
	ms.On("Admin", mock.Anything).Return(ledger.BidderID("admin"), nil)
	ms.On("IsPaused", mock.Anything).Return(true, nil)

	res := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"admin":"admin"}`, res.Body.String())

	res = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/paused", nil)
	mux.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"paused":true}`, res.Body.String())
}

type mockService struct {
	mock.Mock
}

func (s *mockService) GetBid(ctx context.Context, id ledger.ProjectID, bidder ledger.BidderID) (*ledger.BidRecord, error) {
	args := s.Called(ctx, id, bidder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.BidRecord), args.Error(1)
}

func (s *mockService) ListProjectBids(ctx context.Context, id ledger.ProjectID) ([]ledger.BidHeader, error) {
	args := s.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.BidHeader), args.Error(1)
}

func (s *mockService) ListProjects(ctx context.Context) ([]ledger.ProjectID, error) {
	args := s.Called(ctx)
	return args.Get(0).([]ledger.ProjectID), args.Error(1)
}

func (s *mockService) IsPaused(ctx context.Context) (bool, error) {
	args := s.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (s *mockService) Admin(ctx context.Context) (ledger.BidderID, error) {
	args := s.Called(ctx)
	return args.Get(0).(ledger.BidderID), args.Error(1)
}
