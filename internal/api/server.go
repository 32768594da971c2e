// Package api exposes the display list and the engine controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"Go2NetLog/internal/display"
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/filter"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/probe"
	"Go2NetLog/internal/query"

	"github.com/gorilla/mux"
	"k8s.io/klog/v2"
)

const maxBodySize = 64 << 20

// Engine is the part of the manager the API drives.
type Engine interface {
	Snapshot(ctx context.Context) (*ownerstore.Snapshot, error)
	Rebuild(ctx context.Context) error
	Reingest(ctx context.Context, records []model.FlowRecord) error
}

// Presenter is the part of the display layer the API drives.
type Presenter interface {
	Frame(ctx context.Context) (display.Frame, error)
	Query(ctx context.Context) (filter.Query, error)
	SetQuery(ctx context.Context, q filter.Query) error
	SetSort(ctx context.Context, pre, primary filter.SortKey) error
	SetExpanded(ctx context.Context, key display.OwnerKey, expanded bool) error
	SetScroll(ctx context.Context, offset int) error
}

// Server holds the dependencies for API handlers. querier may be nil.
type Server struct {
	engine    Engine
	presenter Presenter
	querier   query.Querier
	router    *mux.Router
}

// NewServer creates the router with every route registered.
func NewServer(engine Engine, presenter Presenter, querier query.Querier) *Server {
	s := &Server{engine: engine, presenter: presenter, querier: querier, router: mux.NewRouter()}

	r := s.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/owners", s.frameHandler).Methods(http.MethodGet)
	r.HandleFunc("/owners/{id:[0-9]+}/samples", s.ownerSamplesHandler).Methods(http.MethodGet)
	r.HandleFunc("/owners/{id:[0-9]+}/peers/{peer}/samples", s.peerSamplesHandler).Methods(http.MethodGet)
	r.HandleFunc("/owners/{id:[0-9]+}/expanded", s.expandedHandler).Methods(http.MethodPut)
	r.HandleFunc("/filter", s.getFilterHandler).Methods(http.MethodGet)
	r.HandleFunc("/filter", s.setFilterHandler).Methods(http.MethodPost)
	r.HandleFunc("/sort", s.sortHandler).Methods(http.MethodPut)
	r.HandleFunc("/scroll", s.scrollHandler).Methods(http.MethodPut)
	r.HandleFunc("/rebuild", s.rebuildHandler).Methods(http.MethodPost)
	r.HandleFunc("/reingest", s.reingestHandler).Methods(http.MethodPost)
	r.HandleFunc("/history/owners/{id:[0-9]+}", s.historyHandler).Methods(http.MethodGet)
	r.HandleFunc("/history/top", s.topHandler).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Warningf("Failed to write response: %v", err)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

func ownerID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	return id
}

// frameHandler returns the most recent frame of the display list.
func (s *Server) frameHandler(w http.ResponseWriter, r *http.Request) {
	f, err := s.presenter.Frame(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get frame: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// SamplesResponse is the time series of one owner or peer.
type SamplesResponse struct {
	OwnerID int            `json:"owner_id"`
	Package string         `json:"package"`
	Peer    string         `json:"peer,omitempty"`
	Samples []model.Sample `json:"samples"`
}

// findOwner picks the owner with the id of the request, narrowed by the package query parameter.
func (s *Server) findOwner(w http.ResponseWriter, r *http.Request) *ownerstore.OwnerSnapshot {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to take snapshot: %v", err), http.StatusServiceUnavailable)
		return nil
	}
	pkg := r.URL.Query().Get("package")
	for _, o := range snap.OwnersByID(ownerID(r)) {
		if pkg == "" || o.Package == pkg {
			return o
		}
	}
	http.Error(w, "owner not found", http.StatusNotFound)
	return nil
}

func (s *Server) ownerSamplesHandler(w http.ResponseWriter, r *http.Request) {
	o := s.findOwner(w, r)
	if o == nil {
		return
	}
	writeJSON(w, http.StatusOK, SamplesResponse{OwnerID: o.ID, Package: o.Package, Samples: nonNil(o.Samples)})
}

func (s *Server) peerSamplesHandler(w http.ResponseWriter, r *http.Request) {
	o := s.findOwner(w, r)
	if o == nil {
		return
	}
	key := mux.Vars(r)["peer"]
	p := o.Peer(key)
	if p == nil {
		http.Error(w, "peer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, SamplesResponse{OwnerID: o.ID, Package: o.Package, Peer: p.Key, Samples: nonNil(p.Samples)})
}

func nonNil(samples []model.Sample) []model.Sample {
	if samples == nil {
		return []model.Sample{}
	}
	return samples
}

type expandedRequest struct {
	Package  string `json:"package"`
	Expanded bool   `json:"expanded"`
}

func (s *Server) expandedHandler(w http.ResponseWriter, r *http.Request) {
	var req expandedRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := display.OwnerKey{ID: ownerID(r), Package: req.Package}
	if err := s.presenter.SetExpanded(r.Context(), key, req.Expanded); err != nil {
		http.Error(w, fmt.Sprintf("failed to update row: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FilterRequest carries user typed term lists. Nil field sets keep the current selection.
type FilterRequest struct {
	Include       string           `json:"include"`
	Exclude       string           `json:"exclude"`
	IncludeFields *filter.FieldSet `json:"include_fields"`
	ExcludeFields *filter.FieldSet `json:"exclude_fields"`
	ResolveHosts  *bool            `json:"resolve_hosts"`
	ResolvePorts  *bool            `json:"resolve_ports"`
}

func (s *Server) getFilterHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.presenter.Query(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get filter: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) setFilterHandler(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := s.presenter.Query(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get filter: %v", err), http.StatusServiceUnavailable)
		return
	}
	q.Include = filter.ParseTerms(req.Include)
	q.Exclude = filter.ParseTerms(req.Exclude)
	if req.IncludeFields != nil {
		q.IncludeFields = *req.IncludeFields
	}
	if req.ExcludeFields != nil {
		q.ExcludeFields = *req.ExcludeFields
	}
	if req.ResolveHosts != nil {
		q.ResolveHosts = *req.ResolveHosts
	}
	if req.ResolvePorts != nil {
		q.ResolvePorts = *req.ResolvePorts
	}

	if err := s.presenter.SetQuery(r.Context(), q); err != nil {
		http.Error(w, fmt.Sprintf("failed to apply filter: %v", err), http.StatusServiceUnavailable)
		return
	}
	s.frameHandler(w, r)
}

// sortRequest keeps the current key for every omitted field.
type sortRequest struct {
	PreSortBy *filter.SortKey `json:"pre_sort_by"`
	SortBy    *filter.SortKey `json:"sort_by"`
}

func (s *Server) sortHandler(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, err := s.presenter.Frame(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get frame: %v", err), http.StatusServiceUnavailable)
		return
	}
	pre, primary := f.PreSortBy, f.SortBy
	if req.PreSortBy != nil {
		pre = *req.PreSortBy
	}
	if req.SortBy != nil {
		primary = *req.SortBy
	}
	if err := s.presenter.SetSort(r.Context(), pre, primary); err != nil {
		http.Error(w, fmt.Sprintf("failed to sort: %v", err), http.StatusServiceUnavailable)
		return
	}
	s.frameHandler(w, r)
}

type scrollRequest struct {
	Offset int `json:"offset"`
}

func (s *Server) scrollHandler(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Offset < 0 {
		http.Error(w, "offset must not be negative", http.StatusBadRequest)
		return
	}
	if err := s.presenter.SetScroll(r.Context(), req.Offset); err != nil {
		http.Error(w, fmt.Sprintf("failed to scroll: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rebuildHandler(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Rebuild(r.Context())
	switch {
	case errors.Is(err, ownerstore.ErrRebuildAborted):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, fmt.Sprintf("failed to rebuild: %v", err), http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// reingestHandler replays a FlowBatch message body.
func (s *Server) reingestHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	records, err := probe.UnmarshalBatch(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.Reingest(r.Context(), records); err != nil {
		http.Error(w, fmt.Sprintf("failed to reingest: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"records": len(records)})
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		http.Error(w, "no clickhouse writer configured", http.StatusNotImplemented)
		return
	}
	params := r.URL.Query()
	since, err := parseTime(params.Get("since"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid since: %v", err), http.StatusBadRequest)
		return
	}
	until, err := parseTime(params.Get("until"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid until: %v", err), http.StatusBadRequest)
		return
	}

	points, err := s.querier.OwnerHistory(r.Context(), query.HistoryRequest{
		OwnerID: ownerID(r),
		Package: params.Get("package"),
		Metric:  query.Metric(params.Get("metric")),
		Since:   since,
		Until:   until,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) topHandler(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		http.Error(w, "no clickhouse writer configured", http.StatusNotImplemented)
		return
	}
	params := r.URL.Query()
	until, err := parseTime(params.Get("until"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid until: %v", err), http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(params.Get("limit"))

	totals, err := s.querier.TopOwners(r.Context(), query.TopRequest{
		Metric: query.Metric(params.Get("metric")),
		Until:  until,
		Limit:  limit,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query top owners: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
