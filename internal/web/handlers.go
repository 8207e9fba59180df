package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/daviddyess/iptoasn/internal/core"
	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/logging"
	"github.com/daviddyess/iptoasn/internal/version"
	"github.com/daviddyess/iptoasn/internal/web/templates"
)

// statusPageEvents is the number of history rows on the status page.
const statusPageEvents = 10

// batchResult is one entry of a batch lookup response. Invalid addresses
// carry an error code instead of failing the whole batch.
type batchResult struct {
	core.AsnResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

type historyResponse struct {
	Events []history.Event `json:"events"`
}

type updateResponse struct {
	Updated bool               `json:"updated"`
	Stats   core.DatabaseStats `json:"stats"`
}

type healthResponse struct {
	Status      string `json:"status"`
	RecordCount int    `json:"record_count"`
}

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// handleLookup serves GET /api/lookup/{ip}.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	ip, err := url.PathUnescape(chi.URLParam(r, "ip"))
	if err != nil {
		ip = chi.URLParam(r, "ip")
	}
	s.lookup(w, r, ip)
}

// handleLookupSelf serves GET /api/lookup for the caller's own address.
func (s *Server) handleLookupSelf(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, clientIP(r))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, ip string) {
	res, err := s.service.Lookup(ip)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	render.JSON(w, r, res)
}

// handleLookupBatch serves POST /api/lookup with a JSON array of addresses.
func (s *Server) handleLookupBatch(w http.ResponseWriter, r *http.Request) {
	var ips []string
	body := http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxBatchSize)*64+1024)
	if err := render.DecodeJSON(body, &ips); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if len(ips) > s.cfg.Server.MaxBatchSize {
		respondError(w, r, errBatchTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.batches.Acquire(r.Context()); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	defer s.batches.Release()

	resp := batchResponse{Results: make([]batchResult, len(ips))}
	for i, ip := range ips {
		res, err := s.service.Lookup(ip)
		if err != nil {
			msg := core.MapError(err)
			resp.Results[i] = batchResult{
				AsnResult: core.AsnResult{IP: ip},
				Error:     msg.Message,
				Code:      msg.Code,
			}
			continue
		}
		resp.Results[i] = batchResult{AsnResult: res}
	}
	render.JSON(w, r, resp)
}

// handleStats serves GET /api/stats. With ?verbose=1 it returns the full
// status including the updater state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if verbose, _ := strconv.ParseBool(r.URL.Query().Get("verbose")); verbose {
		render.JSON(w, r, s.service.Status())
		return
	}
	render.JSON(w, r, s.service.Stats())
}

// handleHistory serves GET /api/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", history.DefaultLimit)
	events, err := s.service.History(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	render.JSON(w, r, historyResponse{Events: events})
}

// handleForceUpdate serves POST /api/update. It waits for the check up to
// the configured timeout; a timed-out wait does not cancel the check.
func (s *Server) handleForceUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Updater.ForceTimeout)
	defer cancel()

	log := logging.WithFields(r.Context(), "ip", clientIP(r))
	log.Info("forced update requested")

	updated, err := s.service.ForceUpdate(ctx)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, context.DeadlineExceeded) {
			// Still running in the background.
			status = http.StatusAccepted
		}
		respondError(w, r, err, status)
		return
	}
	render.JSON(w, r, updateResponse{Updated: updated, Stats: s.service.Stats()})
}

// handleHealth reports ready once a dataset is published.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.service.Stats()
	if st.LastUpdateTimestamp == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, healthResponse{Status: "loading"})
		return
	}
	render.JSON(w, r, healthResponse{Status: "ok", RecordCount: st.RecordCount})
}

// handleStatusPage renders the HTML status page.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.History(r.Context(), statusPageEvents)
	if err != nil {
		logging.FromContext(r.Context()).Warn("status page: history unavailable", "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := templates.StatusPage(templates.StatusData{
		Version: version.String(),
		Status:  s.service.Status(),
		Events:  events,
		Now:     time.Now(),
	})
	if err := page.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}
