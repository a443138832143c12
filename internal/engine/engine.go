// Package engine implements the in-memory report deduplication and hotspot
// ranking core: it groups similar incident reports into clusters and ranks
// the clusters by a time-aware heat score.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gridwatch/hotspotd/internal/heat"
	"github.com/gridwatch/hotspotd/internal/tokenize"
	"github.com/gridwatch/hotspotd/internal/vectorspace"
)

// Errors returned by engine operations.
var (
	// ErrEmptyText is returned when a report is empty after trimming.
	ErrEmptyText = errors.New("engine: report text is empty")
	// ErrUnknownCluster is returned for a cluster id the engine never issued.
	ErrUnknownCluster = errors.New("engine: unknown cluster id")
)

// Report is an immutable record of one submitted incident report.
type Report struct {
	// Index is the 0-based ordinal position, assigned at insertion and
	// never reused.
	Index int
	// Text is the original report text, trimmed.
	Text string
	// ReportedAt is the submission time; defaults to insertion time.
	ReportedAt time.Time
}

// Cluster groups reports judged to describe the same underlying issue.
type Cluster struct {
	// ID is a unique increasing integer, also the arena slot of the cluster.
	ID int
	// Representative is the text of the founding report. It never changes
	// after creation, even when later members drift away from it, so
	// representative lookups stay stable.
	Representative string
	// Members holds the report indices in assignment order.
	Members []int
}

// Config contains the engine parameters.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for a new report
	// to join an existing cluster instead of founding a new one. It is a
	// single engine-wide constant, not configurable per call.
	SimilarityThreshold float64
	// MaxVocabulary caps the vector space at the most frequent terms.
	MaxVocabulary int
	// Heat holds the heat formula parameters.
	Heat heat.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.6,
		MaxVocabulary:       5000,
		Heat:                heat.DefaultConfig(),
	}
}

// Engine is the hotspot ranker. It is a single explicitly owned instance:
// callers inject it where needed rather than reaching for a package global.
// A RWMutex serializes mutations; queries may run concurrently in between.
type Engine struct {
	mu   sync.RWMutex
	cfg  Config
	calc *heat.Calculator

	space *vectorspace.Space

	reports  []Report
	clusters []Cluster
	// clusterOf maps report index to cluster id. It stays a total function
	// over the inserted reports: every report belongs to exactly one cluster.
	clusterOf []int
}

// New creates an engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.SimilarityThreshold <= 0 {
		cfg = DefaultConfig()
	}
	tok, err := tokenize.New()
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	return &Engine{
		cfg:   cfg,
		calc:  heat.NewCalculator(cfg.Heat),
		space: vectorspace.New(tok.Terms, cfg.MaxVocabulary),
	}, nil
}

// AddReport ingests one report and assigns it to a cluster.
//
// The report joins the existing cluster whose representative it resembles
// most, provided the cosine similarity reaches the threshold; otherwise it
// founds a new cluster. The vector space is refit over the whole corpus
// after every insertion so the vocabulary always covers every report.
//
// A zero reportedAt means "now". Returns the new report's index.
func (e *Engine) AddReport(text string, reportedAt time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addLocked(text, reportedAt)
}

func (e *Engine) addLocked(text string, reportedAt time.Time) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, ErrEmptyText
	}
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	idx := len(e.reports)
	e.reports = append(e.reports, Report{Index: idx, Text: text, ReportedAt: reportedAt})

	if idx == 0 {
		e.foundClusterLocked(idx, text)
		e.refitLocked()
		return idx, nil
	}

	// The match step projects the new text into the space fit over the
	// corpus before this report. Rebuild lazily if it went stale.
	if e.space.State() != vectorspace.StateBuilt || e.space.Len() != idx {
		e.space.Fit(e.textsLocked()[:idx])
	}

	if id, ok := e.matchClusterLocked(text); ok {
		e.joinClusterLocked(idx, id)
	} else {
		e.foundClusterLocked(idx, text)
	}

	// The new report may carry vocabulary the old space lacks.
	e.refitLocked()
	return idx, nil
}

// foundClusterLocked opens a new cluster with the report as sole member
// and representative.
func (e *Engine) foundClusterLocked(idx int, text string) {
	id := len(e.clusters)
	e.clusters = append(e.clusters, Cluster{ID: id, Representative: text, Members: []int{idx}})
	e.clusterOf = append(e.clusterOf, id)
}

func (e *Engine) joinClusterLocked(idx, id int) {
	e.clusters[id].Members = append(e.clusters[id].Members, idx)
	e.clusterOf = append(e.clusterOf, id)
}

// matchClusterLocked finds the best-matching cluster for text by comparing
// against cluster representatives only, which bounds the cost to O(clusters)
// per insertion. On exact similarity ties the earliest-created cluster wins:
// clusters are scanned in creation order and only a strictly greater
// similarity replaces the current best.
func (e *Engine) matchClusterLocked(text string) (int, bool) {
	vec, err := e.space.Transform(text)
	if err != nil {
		// Stale or foreign vocabulary: no match is possible against the
		// current space. The refit after assignment restores coverage.
		return 0, false
	}

	best := 0.0
	bestID := -1
	for _, c := range e.clusters {
		row, ok := e.space.Row(c.Members[0])
		if !ok {
			continue
		}
		if sim := vectorspace.Cosine(vec, row); sim > best {
			best = sim
			bestID = c.ID
		}
	}
	if bestID >= 0 && best >= e.cfg.SimilarityThreshold {
		return bestID, true
	}
	return 0, false
}

func (e *Engine) refitLocked() {
	e.space.Fit(e.textsLocked())
}

func (e *Engine) textsLocked() []string {
	texts := make([]string, len(e.reports))
	for i, r := range e.reports {
		texts[i] = r.Text
	}
	return texts
}

// SimilarReport is one result of a per-report similarity query.
type SimilarReport struct {
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// FindSimilarReports compares text against every individual report, not
// just cluster representatives, and returns the topK most similar ones at
// or above the similarity threshold. It answers "what exists that resembles
// this text" independently of how the reports were clustered.
//
// An empty corpus or a query with no known terms yields an empty result.
func (e *Engine) FindSimilarReports(text string, topK int) []SimilarReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.reports) == 0 || e.space.State() != vectorspace.StateBuilt {
		return nil
	}
	vec, err := e.space.Transform(text)
	if err != nil {
		return nil
	}

	results := make([]SimilarReport, 0, len(e.reports))
	for i := range e.reports {
		row, ok := e.space.Row(i)
		if !ok {
			continue
		}
		sim := vectorspace.Cosine(vec, row)
		if sim >= e.cfg.SimilarityThreshold {
			results = append(results, SimilarReport{Text: e.reports[i].Text, Similarity: sim})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ClusterInfo is the exported view of one cluster.
type ClusterInfo struct {
	Representative string   `json:"representative"`
	Count          int      `json:"count"`
	Reports        []string `json:"reports"`
}

// Clusters returns all clusters keyed by cluster id.
func (e *Engine) Clusters() map[int]ClusterInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[int]ClusterInfo, len(e.clusters))
	for _, c := range e.clusters {
		texts := make([]string, len(c.Members))
		for i, idx := range c.Members {
			texts[i] = e.reports[idx].Text
		}
		out[c.ID] = ClusterInfo{Representative: c.Representative, Count: len(c.Members), Reports: texts}
	}
	return out
}

// ClusterOf returns the cluster id a report index was assigned to.
func (e *Engine) ClusterOf(reportIndex int) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if reportIndex < 0 || reportIndex >= len(e.clusterOf) {
		return 0, false
	}
	return e.clusterOf[reportIndex], true
}

// ComputeHeat computes the heat of one cluster at the given time.
func (e *Engine) ComputeHeat(clusterID int, now time.Time) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if clusterID < 0 || clusterID >= len(e.clusters) {
		return 0, ErrUnknownCluster
	}
	return e.calc.Calculate(e.memberTimesLocked(clusterID), now), nil
}

func (e *Engine) memberTimesLocked(clusterID int) []time.Time {
	members := e.clusters[clusterID].Members
	times := make([]time.Time, len(members))
	for i, idx := range members {
		times[i] = e.reports[idx].ReportedAt
	}
	return times
}

// RankedCluster is one entry of the hotspot ranking.
type RankedCluster struct {
	Representative string  `json:"representative"`
	Heat           float64 `json:"heat"`
	Count          int     `json:"count"`
	ClusterID      int     `json:"cluster_id"`
}

// HotspotRanking returns at most topK clusters ordered by heat descending.
// Equal-heat clusters keep creation order, so the ranking is deterministic.
// A zero now means "now".
func (e *Engine) HotspotRanking(topK int, now time.Time) []RankedCluster {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if now.IsZero() {
		now = time.Now()
	}
	ranked := make([]RankedCluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		ranked = append(ranked, RankedCluster{
			Representative: c.Representative,
			Heat:           e.calc.Calculate(e.memberTimesLocked(c.ID), now),
			Count:          len(c.Members),
			ClusterID:      c.ID,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Heat > ranked[j].Heat
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// Stats summarizes the engine state.
type Stats struct {
	TotalReports         int     `json:"total_reports"`
	TotalClusters        int     `json:"total_clusters"`
	AvgReportsPerCluster float64 `json:"avg_reports_per_cluster"`
}

// Statistics returns the report and cluster totals. The average is 0 when
// no clusters exist.
func (e *Engine) Statistics() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Stats{TotalReports: len(e.reports), TotalClusters: len(e.clusters)}
	if st.TotalClusters > 0 {
		st.AvgReportsPerCluster = float64(st.TotalReports) / float64(st.TotalClusters)
	}
	return st
}

// SourceRecord is one historical report handed over by the source of truth.
// The provider is responsible for excluding resolved records; the engine
// replays whatever it is given.
type SourceRecord struct {
	Text       string
	ReportedAt time.Time
}

// LoadFromSource discards the whole engine state and rebuilds it by
// replaying the records in the given order. Clustering is order-sensitive
// (the first-seen report becomes the permanent representative), so callers
// must hand records over in chronological ascending order for reloads to be
// reproducible.
//
// On any replay failure the engine resets to a fully cleared state and the
// error is returned; it is never left half-loaded.
func (e *Engine) LoadFromSource(records []SourceRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.resetLocked()
	for i, rec := range records {
		if _, err := e.addLocked(rec.Text, rec.ReportedAt); err != nil {
			e.resetLocked()
			return fmt.Errorf("replay record %d: %w", i, err)
		}
	}
	return nil
}

// Clear discards all reports, clusters, and the vector space.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.reports = nil
	e.clusters = nil
	e.clusterOf = nil
	e.space.Fit(nil)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}
