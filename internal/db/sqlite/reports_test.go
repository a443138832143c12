package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *ReportStore) {
	t.Helper()
	store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, NewReportStore(store)
}

func TestSaveAndGetReport(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	reportedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	sev := 0.8
	rec, err := reports.SaveReport(ctx, "  水管爆裂严重  ", reportedAt, &sev)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.UUID)
	assert.Equal(t, "水管爆裂严重", rec.Content)
	assert.Equal(t, StatusOpen, rec.Status)

	got, err := reports.GetReport(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, rec.UUID, got.UUID)
	assert.Equal(t, "水管爆裂严重", got.Content)
	assert.Equal(t, reportedAt.UnixMilli(), got.ReportedAt.UnixMilli())
	require.True(t, got.Severity.Valid)
	assert.InDelta(t, 0.8, got.Severity.Float64, 0.0001)
}

func TestSaveReportRejectsEmptyContent(t *testing.T) {
	_, reports := newTestStore(t)

	_, err := reports.SaveReport(context.Background(), "   ", time.Now(), nil)
	assert.Error(t, err)
}

func TestSaveReportDefaultsZeroTimestamp(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	rec, err := reports.SaveReport(ctx, "路灯不亮", time.Time{}, nil)
	require.NoError(t, err)

	got, err := reports.GetReport(ctx, rec.UUID)
	require.NoError(t, err)
	assert.True(t, got.ReportedAt.After(before))
	assert.False(t, got.Severity.Valid)
}

func TestListOpenReportsOrderAndFiltering(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Inserted out of chronological order on purpose.
	second, err := reports.SaveReport(ctx, "第二条", base.Add(2*time.Hour), nil)
	require.NoError(t, err)
	first, err := reports.SaveReport(ctx, "第一条", base, nil)
	require.NoError(t, err)
	resolved, err := reports.SaveReport(ctx, "已解决", base.Add(time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, reports.ResolveReport(ctx, resolved.UUID))

	open, err := reports.ListOpenReports(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, first.UUID, open[0].UUID)
	assert.Equal(t, second.UUID, open[1].UUID)
}

func TestListOpenReportsSameTimestampKeepsInsertionOrder(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	a, err := reports.SaveReport(ctx, "同时刻甲", ts, nil)
	require.NoError(t, err)
	b, err := reports.SaveReport(ctx, "同时刻乙", ts, nil)
	require.NoError(t, err)

	open, err := reports.ListOpenReports(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, a.UUID, open[0].UUID)
	assert.Equal(t, b.UUID, open[1].UUID)
}

func TestResolveReport(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	rec, err := reports.SaveReport(ctx, "燃气泄漏", time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, reports.ResolveReport(ctx, rec.UUID))

	got, err := reports.GetReport(ctx, rec.UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)

	err = reports.ResolveReport(ctx, "no-such-uuid")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMaxSeverity(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	low, high := 0.2, 0.9
	_, err := reports.SaveReport(ctx, "水管爆裂严重", time.Now(), &low)
	require.NoError(t, err)
	_, err = reports.SaveReport(ctx, "供水中断", time.Now(), &high)
	require.NoError(t, err)
	_, err = reports.SaveReport(ctx, "路灯不亮", time.Now(), nil)
	require.NoError(t, err)

	max, ok, err := reports.MaxSeverity(ctx, []string{"水管爆裂严重", "供水中断"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.9, max, 0.0001)

	_, ok, err = reports.MaxSeverity(ctx, []string{"路灯不亮"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = reports.MaxSeverity(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountOpenReports(t *testing.T) {
	_, reports := newTestStore(t)
	ctx := context.Background()

	n, err := reports.CountOpenReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	rec, err := reports.SaveReport(ctx, "下水道堵塞", time.Now(), nil)
	require.NoError(t, err)
	_, err = reports.SaveReport(ctx, "污水外溢", time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, reports.ResolveReport(ctx, rec.UUID))

	n, err = reports.CountOpenReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewStore(StoreConfig{Path: path})
	require.NoError(t, err)
	reports := NewReportStore(store)
	_, err = reports.SaveReport(context.Background(), "持久化测试", time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening runs migrations again; existing data must survive.
	store, err = NewStore(StoreConfig{Path: path})
	require.NoError(t, err)
	defer store.Close()

	n, err := NewReportStore(store).CountOpenReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
