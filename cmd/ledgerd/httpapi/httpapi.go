package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/tender-core/ledger"
)

var (
	log = golog.Logger("ledgerd/api")
)

// Service provides scoped read access to the ledger service.
type Service interface {
	GetBid(ctx context.Context, id ledger.ProjectID, bidder ledger.BidderID) (*ledger.BidRecord, error)
	ListProjectBids(ctx context.Context, id ledger.ProjectID) ([]ledger.BidHeader, error)
	ListProjects(ctx context.Context) ([]ledger.ProjectID, error)
	IsPaused(ctx context.Context) (bool, error)
	Admin(ctx context.Context) (ledger.BidderID, error)
}

// NewServer returns a new http server exposing ledger queries.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: createMux(service),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(healthHandler))
	mux.HandleFunc("/admin", getOnly(adminHandler(service)))
	mux.HandleFunc("/paused", getOnly(pausedHandler(service)))
	// allow both with and without trailing slash
	projects := getOnly(projectsHandler(service))
	mux.HandleFunc("/projects", projects)
	mux.HandleFunc("/projects/", projects)
	return mux
}

func getOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			httpError(w, "only GET method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func adminHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, err := service.Admin(r.Context())
		if err != nil {
			httpError(w, fmt.Sprintf("getting admin: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			Admin string `json:"admin"`
		}{string(admin)})
	}
}

func pausedHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paused, err := service.IsPaused(r.Context())
		if err != nil {
			httpError(w, fmt.Sprintf("getting paused state: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, struct {
			Paused bool `json:"paused"`
		}{paused})
	}
}

// projectsHandler serves /projects, /projects/<id>/bids and
// /projects/<id>/bids/<bidder>. Ids are opaque and may contain path
// separators, so segments are matched on the escaped path and unescaped
// individually (e.g. /projects/a%2Fb/bids for project "a/b").
func projectsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urlParts := strings.SplitN(strings.TrimSuffix(r.URL.EscapedPath(), "/"), "/", 5)
		switch {
		case len(urlParts) < 3 || urlParts[2] == "":
			listProjects(w, r, service)
		case len(urlParts) == 4 && urlParts[3] == "bids":
			id, ok := unescapeSegment(w, urlParts[2])
			if !ok {
				return
			}
			listProjectBids(w, r, service, ledger.ProjectID(id))
		case len(urlParts) == 5 && urlParts[3] == "bids" && urlParts[4] != "":
			id, ok := unescapeSegment(w, urlParts[2])
			if !ok {
				return
			}
			bidder, ok := unescapeSegment(w, urlParts[4])
			if !ok {
				return
			}
			getBid(w, r, service, ledger.ProjectID(id), ledger.BidderID(bidder))
		default:
			httpError(w, "not found", http.StatusNotFound)
		}
	}
}

func unescapeSegment(w http.ResponseWriter, segment string) (string, bool) {
	s, err := url.PathUnescape(segment)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing path segment: %s", err), http.StatusBadRequest)
		return "", false
	}
	return s, true
}

func listProjects(w http.ResponseWriter, r *http.Request, service Service) {
	ids, err := service.ListProjects(r.Context())
	if err != nil {
		httpError(w, fmt.Sprintf("listing projects: %s", err), http.StatusInternalServerError)
		return
	}
	projects := make([]string, len(ids))
	for i, id := range ids {
		projects[i] = string(id)
	}
	writeJSON(w, projects)
}

type bidHeaderJSON struct {
	Bidder      string `json:"bidder"`
	Commitment  string `json:"commitment"`
	SubmittedAt uint64 `json:"submittedAt"`
}

// Amount and RevealedAt are always emitted; a revealed zero amount must be
// distinguishable from a sealed one.
type bidRecordJSON struct {
	Commitment  string `json:"commitment"`
	Amount      uint64 `json:"amount"`
	Description string `json:"description,omitempty"`
	Revealed    bool   `json:"revealed"`
	RevealedAt  uint64 `json:"revealedAt"`
}

func listProjectBids(w http.ResponseWriter, r *http.Request, service Service, id ledger.ProjectID) {
	headers, err := service.ListProjectBids(r.Context(), id)
	if errors.Is(err, ledger.ErrProjectNotFound) {
		httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusNotFound)
		return
	} else if err != nil {
		httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusInternalServerError)
		return
	}
	bids := make([]bidHeaderJSON, len(headers))
	for i, h := range headers {
		bids[i] = bidHeaderJSON{
			Bidder:      string(h.Bidder),
			Commitment:  hex.EncodeToString(h.Commitment),
			SubmittedAt: h.SubmittedAt,
		}
	}
	writeJSON(w, bids)
}

func getBid(w http.ResponseWriter, r *http.Request, service Service, id ledger.ProjectID, bidder ledger.BidderID) {
	rec, err := service.GetBid(r.Context(), id, bidder)
	if errors.Is(err, ledger.ErrProjectNotFound) || errors.Is(err, ledger.ErrBidNotFound) {
		httpError(w, fmt.Sprintf("getting bid: %s", err), http.StatusNotFound)
		return
	} else if err != nil {
		httpError(w, fmt.Sprintf("getting bid: %s", err), http.StatusInternalServerError)
		return
	}
	resp := bidRecordJSON{
		Commitment: hex.EncodeToString(rec.Commitment),
		Revealed:   rec.Revealed,
	}
	// unrevealed amounts and descriptions stay sealed
	if rec.Revealed {
		resp.Amount = rec.Amount
		resp.Description = rec.Description
		resp.RevealedAt = rec.RevealedAt
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
