package worker

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/gridwatch/hotspotd/internal/engine"
)

// Handler defaults.
const (
	// DefaultSimilarLimit is the default number of similar reports returned.
	DefaultSimilarLimit = 5
)

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// handleHealth handles health check requests.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ready",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// createReportRequest is the body of POST /api/reports.
type createReportRequest struct {
	Content    string   `json:"content"`
	ReportedAt string   `json:"reported_at,omitempty"` // RFC 3339, defaults to now
	Severity   *float64 `json:"severity,omitempty"`
}

// handleCreateReport persists a new report, feeds it into the ranking
// engine, and pushes the refreshed ranking to SSE subscribers.
func (s *Service) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	reportedAt := time.Now()
	if req.ReportedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ReportedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reported_at must be RFC 3339")
			return
		}
		reportedAt = ts
	}

	rec, err := s.reports.SaveReport(r.Context(), req.Content, reportedAt, req.Severity)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save report")
		writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}

	idx, err := s.engine.AddReport(rec.Content, rec.ReportedAt)
	if err != nil {
		// The store accepted the content, so only an empty-after-trim race
		// can land here; surface it as caller error.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clusterID, _ := s.engine.ClusterOf(idx)

	s.broadcastRanking(time.Now())

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"uuid":         rec.UUID,
		"report_index": idx,
		"cluster_id":   clusterID,
	})
}

// handleSimilarReports answers "what exists that resembles this text",
// comparing against every stored report rather than cluster
// representatives.
func (s *Service) handleSimilarReports(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	topK := queryInt(r, "top_k", DefaultSimilarLimit)

	results := s.engine.FindSimilarReports(query, topK)
	if results == nil {
		results = []engine.SimilarReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"results": results,
	})
}

// handleResolveReport marks a stored report resolved; the next reload
// drops it from the engine.
func (s *Service) handleResolveReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reports.ResolveReport(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to resolve report")
		writeError(w, http.StatusInternalServerError, "failed to resolve report")
		return
	}

	if err := s.refreshShared(r.Context()); err != nil {
		log.Error().Err(err).Msg("Reload after resolve failed")
		writeError(w, http.StatusInternalServerError, "report resolved but reload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// handleClusters returns every cluster with its members.
func (s *Service) handleClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clusters": s.engine.Clusters(),
	})
}

// rankingEntry is one row of the hotspot ranking response. Severity comes
// from the store and is reported alongside heat; combining the two is the
// caller's business.
type rankingEntry struct {
	Rank           int      `json:"rank"`
	Representative string   `json:"representative"`
	Heat           float64  `json:"heat"`
	Count          int      `json:"count"`
	ClusterID      int      `json:"cluster_id"`
	Severity       *float64 `json:"severity"`
}

// handleHotspots returns the heat-ranked clusters. refresh=true (the
// default) replays the store first so the ranking reflects external
// writers; concurrent refreshes collapse into a single replay.
func (s *Service) handleHotspots(w http.ResponseWriter, r *http.Request) {
	topK := queryInt(r, "top_k", s.config.RankingSize)

	refresh := true
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		refresh = raw != "false" && raw != "0"
	}
	if refresh {
		if err := s.refreshShared(r.Context()); err != nil {
			log.Error().Err(err).Msg("Engine refresh failed")
			writeError(w, http.StatusInternalServerError, "failed to refresh from store")
			return
		}
	}

	now := time.Now()
	ranking := s.engine.HotspotRanking(topK, now)
	clusters := s.engine.Clusters()

	entries := make([]rankingEntry, 0, len(ranking))
	for i, rc := range ranking {
		entry := rankingEntry{
			Rank:           i + 1,
			Representative: rc.Representative,
			Heat:           rc.Heat,
			Count:          rc.Count,
			ClusterID:      rc.ClusterID,
		}
		if info, ok := clusters[rc.ClusterID]; ok {
			if sev, ok, err := s.reports.MaxSeverity(r.Context(), info.Reports); err != nil {
				log.Warn().Err(err).Int("cluster", rc.ClusterID).Msg("Severity lookup failed")
			} else if ok {
				entry.Severity = &sev
			}
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ranking":    entries,
		"statistics": s.engine.Statistics(),
		"as_of":      now.Format(time.RFC3339),
	})
}

// handleStats returns engine statistics.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Statistics())
}

// handleReload clears the engine and replays the store.
func (s *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.refreshShared(r.Context()); err != nil {
		log.Error().Err(err).Msg("Manual reload failed")
		writeError(w, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Statistics())
}
