package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Report status values.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

// ReportRecord is one persisted incident report.
type ReportRecord struct {
	ID         int64
	UUID       string
	Content    string
	ReportedAt time.Time
	Status     string
	Severity   sql.NullFloat64
}

// reportColumns is the standard column list for report queries.
const reportColumns = `id, uuid, content, reported_at_epoch, status, severity`

// ReportStore provides report-related database operations. It is the
// source of truth the in-memory ranker is rebuilt from.
type ReportStore struct {
	store *Store
}

// NewReportStore creates a new report store.
func NewReportStore(store *Store) *ReportStore {
	return &ReportStore{store: store}
}

// SaveReport persists a new open report. severity may be nil when the
// report has not been assessed yet.
func (s *ReportStore) SaveReport(ctx context.Context, content string, reportedAt time.Time, severity *float64) (*ReportRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("save report: empty content")
	}
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	rec := &ReportRecord{
		UUID:       uuid.NewString(),
		Content:    content,
		ReportedAt: reportedAt,
		Status:     StatusOpen,
	}
	if severity != nil {
		rec.Severity = sql.NullFloat64{Float64: *severity, Valid: true}
	}

	const query = `
		INSERT INTO reports (uuid, content, reported_at_epoch, status, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.store.ExecContext(ctx, query,
		rec.UUID, rec.Content, reportedAt.UnixMilli(), rec.Status,
		rec.Severity, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	return rec, nil
}

// ListOpenReports returns all open, non-empty reports in chronological
// ascending order. That order is the reload contract: replaying it makes
// cluster representatives reproducible across reloads.
func (s *ReportStore) ListOpenReports(ctx context.Context) ([]ReportRecord, error) {
	const query = `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE status = ? AND TRIM(content) != ''
		ORDER BY reported_at_epoch ASC, id ASC
	`
	rows, err := s.store.QueryContext(ctx, query, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open reports: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetReport returns one report by uuid.
func (s *ReportStore) GetReport(ctx context.Context, id string) (*ReportRecord, error) {
	const query = `SELECT ` + reportColumns + ` FROM reports WHERE uuid = ?`
	row := s.store.QueryRowContext(ctx, query, id)

	var rec ReportRecord
	var epoch int64
	err := row.Scan(&rec.ID, &rec.UUID, &rec.Content, &epoch, &rec.Status, &rec.Severity)
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	rec.ReportedAt = time.UnixMilli(epoch)
	return &rec, nil
}

// ResolveReport marks a report resolved so the next reload excludes it.
func (s *ReportStore) ResolveReport(ctx context.Context, id string) error {
	const query = `UPDATE reports SET status = ? WHERE uuid = ?`
	result, err := s.store.ExecContext(ctx, query, StatusResolved, id)
	if err != nil {
		return fmt.Errorf("resolve report %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MaxSeverity returns the highest stored severity among the reports with
// the given contents. ok is false when none of them has a severity.
func (s *ReportStore) MaxSeverity(ctx context.Context, contents []string) (float64, bool, error) {
	if len(contents) == 0 {
		return 0, false, nil
	}

	placeholders := strings.Repeat("?,", len(contents))
	placeholders = placeholders[:len(placeholders)-1]
	query := `SELECT MAX(severity) FROM reports WHERE severity IS NOT NULL AND content IN (` + placeholders + `)`

	args := make([]interface{}, len(contents))
	for i, c := range contents {
		args[i] = c
	}

	// Dynamic placeholder count, keep it out of the statement cache.
	var max sql.NullFloat64
	if err := s.store.DB().QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("max severity: %w", err)
	}
	return max.Float64, max.Valid, nil
}

// CountOpenReports returns the number of open reports.
func (s *ReportStore) CountOpenReports(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE status = ?`, StatusOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open reports: %w", err)
	}
	return n, nil
}

// scanner abstracts *sql.Rows and *sql.Row for scanReport.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(sc scanner) (ReportRecord, error) {
	var rec ReportRecord
	var epoch int64
	if err := sc.Scan(&rec.ID, &rec.UUID, &rec.Content, &epoch, &rec.Status, &rec.Severity); err != nil {
		return rec, fmt.Errorf("scan report: %w", err)
	}
	rec.ReportedAt = time.UnixMilli(epoch)
	return rec, nil
}
