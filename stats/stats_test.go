package stats_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"support-bot/clock"
	"support-bot/priority"
	"support-bot/stats"
	"support-bot/ticket"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)

type blobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  int
}

func (s *blobStore) GetBlob(_ context.Context, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (s *blobStore) PutBlob(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[key] = data
	s.puts++
	return nil
}

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func newManager(t *testing.T) (*stats.Manager, *blobStore, *clock.Fake) {
	t.Helper()
	store := &blobStore{}
	c := clock.NewFake(base)
	m := stats.New(stats.Config{ReportDir: t.TempDir()}, store, c, nil)
	require.NoError(t, m.Load(context.Background()))
	return m, store, c
}

// lifecycle records create, claim after claimAfter and close after closeAfter.
func lifecycle(m *stats.Manager, id, category, staffID string, claimAfter, closeAfter time.Duration) ticket.Ticket {
	ctx := context.Background()
	tk := ticket.Ticket{ID: id, Category: category, Priority: priority.Medium, CreatedAt: base, IsOpen: true}
	m.RecordCreated(ctx, tk)
	if staffID != "" {
		tk.ClaimedBy = staffID
		tk.ClaimedAt = at(claimAfter)
		m.RecordClaimed(ctx, tk)
	}
	tk.IsOpen = false
	tk.ClosedBy = staffID
	tk.ClosedAt = at(closeAfter)
	m.RecordClosed(ctx, tk)
	return tk
}

func Test_Manager_Summary_Reports_Counts_And_Averages(t *testing.T) {
	t.Parallel()

	m, store, _ := newManager(t)
	lifecycle(m, "T-1", "soporte", "s1", time.Hour, 2*time.Hour)
	lifecycle(m, "T-2", "soporte", "s1", 3*time.Hour, 4*time.Hour)
	lifecycle(m, "T-3", "billing", "s2", 5*time.Hour, 6*time.Hour)
	m.RecordCreated(context.Background(), ticket.Ticket{ID: "T-4", Category: "soporte", Priority: priority.High, CreatedAt: base})

	got := m.Summary()
	want := stats.Summary{
		TotalTickets:      4,
		OpenTickets:       1,
		ClosedTickets:     3,
		AvgResponseTime:   "3h 0m",
		AvgResolutionTime: "4h 0m",
		TopCategory:       "soporte",
		TopStaff:          "<@s1>",
		EscalationRate:    33.3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Positive(t, store.puts)
}

func Test_Manager_Summary_Empty_Uses_Placeholders(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	got := m.Summary()

	assert.Equal(t, "N/A", got.TopCategory)
	assert.Equal(t, "N/A", got.TopStaff)
	assert.Equal(t, "0m", got.AvgResponseTime)
	assert.Zero(t, got.EscalationRate)
}

func Test_Manager_Reopen_Moves_Ticket_Back_To_Open(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	tk := lifecycle(m, "T-1", "soporte", "s1", time.Hour, 2*time.Hour)
	m.RecordReopened(context.Background(), tk)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.Tickets.Open)
	assert.Equal(t, 0, snap.Tickets.Closed)
	assert.Equal(t, 1, snap.Tickets.Reopened)
}

func Test_Manager_Satisfaction_Credits_Claiming_Staff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _, _ := newManager(t)
	tk := lifecycle(m, "T-1", "soporte", "s1", time.Hour, 2*time.Hour)
	m.RecordSatisfaction(ctx, tk, 2)
	m.RecordSatisfaction(ctx, tk, 3)
	m.RecordSatisfaction(ctx, tk, 9)

	report := m.StaffReport()
	require.Len(t, report, 1)
	assert.Equal(t, 2.5, report[0].AvgSatisfaction)
	assert.Equal(t, 2, report[0].TotalRatings)

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "satisfaction", alerts[0].Metric)
	assert.Equal(t, "error", alerts[0].Type)
}

func Test_Manager_Alerts_Fire_On_Slow_Responses(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	lifecycle(m, "T-1", "soporte", "s1", 5*time.Hour, 6*time.Hour)

	var metrics []string
	for _, a := range m.Alerts() {
		metrics = append(metrics, a.Metric)
	}
	assert.Equal(t, []string{"response_time", "escalation_rate"}, metrics)
}

func Test_Manager_No_Alerts_Without_Data(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	assert.Empty(t, m.Alerts())
}

func Test_Manager_StaffReport_Sorted_By_Tickets_Handled(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	lifecycle(m, "T-1", "soporte", "b", 30*time.Minute, time.Hour)
	lifecycle(m, "T-2", "soporte", "a", 30*time.Minute, time.Hour)
	lifecycle(m, "T-3", "soporte", "b", 90*time.Minute, 2*time.Hour)
	lifecycle(m, "T-4", "soporte", "", 0, time.Hour)

	report := m.StaffReport()
	require.Len(t, report, 2)
	assert.Equal(t, "b", report[0].StaffID)
	assert.Equal(t, 2, report[0].TicketsHandled)
	assert.Equal(t, "1h 0m", report[0].AvgResponseTime)
	assert.Equal(t, "a", report[1].StaffID)
}

func Test_Manager_ByPeriod_Aggregates_Days_Weeks_And_Months(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _, c := newManager(t)
	// 2024-04-15 is a Monday.
	for _, offset := range []int{-20, -16, -1, 0, 0} {
		m.RecordCreated(ctx, ticket.Ticket{Category: "soporte", CreatedAt: base.AddDate(0, 0, offset)})
	}
	c.Set(base.Add(time.Hour))

	days := m.ByPeriod(stats.Day, 3)
	assert.Equal(t, []stats.PeriodCount{
		{Key: "2024-04-13", Count: 0},
		{Key: "2024-04-14", Count: 1},
		{Key: "2024-04-15", Count: 2},
	}, days)

	weeks := m.ByPeriod(stats.Week, 21)
	assert.Equal(t, []stats.PeriodCount{
		{Key: "2024-03-24", Count: 2},
		{Key: "2024-03-31", Count: 0},
		{Key: "2024-04-07", Count: 0},
		{Key: "2024-04-14", Count: 3},
	}, weeks)

	months := m.ByPeriod(stats.Month, 30)
	assert.Equal(t, []stats.PeriodCount{
		{Key: "2024-03", Count: 2},
		{Key: "2024-04", Count: 3},
	}, months)
}

func Test_Trends_Classifies_Change(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []int
		want   string
	}{
		{"single value", []int{3}, "insufficient_data"},
		{"increasing", []int{1, 1, 2, 2}, "increasing"},
		{"decreasing", []int{4, 4, 2, 2}, "decreasing"},
		{"within five percent", []int{100, 104}, "stable"},
		{"from zero", []int{0, 0, 1, 1}, "increasing"},
		{"all zero", []int{0, 0}, "stable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, stats.Trends(tt.values).Trend)
		})
	}

	got := stats.Trends([]int{1, 1, 2, 2})
	assert.Equal(t, 100.0, got.PercentChange)
	assert.Equal(t, 1.0, got.FirstHalfAvg)
	assert.Equal(t, 2.0, got.SecondHalfAvg)
}

func Test_Manager_MonthlyReport_Writes_File(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	c := clock.NewFake(base)
	m := stats.New(stats.Config{ReportDir: dir}, nil, c, nil)
	for _, d := range []int{2, 10, 10, 10, 29} {
		m.RecordCreated(ctx, ticket.Ticket{Category: "soporte", CreatedAt: time.Date(2024, 2, d, 12, 0, 0, 0, time.UTC)})
	}

	r, err := m.MonthlyReport(2024, time.February)
	require.NoError(t, err)
	assert.Equal(t, "2024-02", r.Period)
	assert.Equal(t, 5, r.TotalTickets)
	assert.Len(t, r.DailyBreakdown, 29)
	assert.Equal(t, 10, r.PeakDay)
	assert.Equal(t, 0.2, r.AvgTicketsPerDay)

	data, err := os.ReadFile(filepath.Join(dir, "monthly-2024-02.json"))
	require.NoError(t, err)
	var onDisk stats.MonthlyReport
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, r.TotalTickets, onDisk.TotalTickets)

	_, err = m.MonthlyReport(2024, 13)
	assert.Error(t, err)
}

func Test_Manager_ExportCSV(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t)
	lifecycle(m, "T-1", "billing", "s1", time.Hour, 2*time.Hour)

	daily, err := m.ExportCSV(stats.ExportDaily)
	require.NoError(t, err)
	assert.Equal(t, "Date,Tickets Created\n2024-04-15,1\n", string(daily))

	tickets, err := m.ExportCSV(stats.ExportTickets)
	require.NoError(t, err)
	assert.Equal(t, "Date,Total,Open,Closed,Top Category\n2024-04-15,1,0,1,billing\n", string(tickets))

	staff, err := m.ExportCSV(stats.ExportStaff)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(staff), "Staff ID,"))
	assert.Contains(t, string(staff), "s1,1,1h 0m,0\n")

	_, err = m.ExportCSV("bogus")
	assert.Error(t, err)
}

func Test_Manager_Load_Restores_Persisted_Aggregate(t *testing.T) {
	t.Parallel()

	m, store, c := newManager(t)
	lifecycle(m, "T-1", "soporte", "s1", time.Hour, 2*time.Hour)

	again := stats.New(stats.Config{}, store, c, nil)
	require.NoError(t, again.Load(context.Background()))

	if diff := cmp.Diff(m.Snapshot(), again.Snapshot()); diff != "" {
		t.Fatalf("reloaded aggregate differs (-want +got):\n%s", diff)
	}
}

// slowFirstPut blocks the first PutBlob until release is closed.
type slowFirstPut struct {
	blobStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowFirstPut) PutBlob(ctx context.Context, key string, v any) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.blobStore.PutBlob(ctx, key, v)
}

func Test_Manager_Saves_Land_In_Update_Order(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &slowFirstPut{entered: make(chan struct{}), release: make(chan struct{})}
	m := stats.New(stats.Config{}, store, clock.NewFake(base), nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.RecordCreated(ctx, ticket.Ticket{ID: "T-1", Category: "soporte", Priority: priority.Low, CreatedAt: base})
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		m.RecordCreated(ctx, ticket.Ticket{ID: "T-2", Category: "soporte", Priority: priority.Low, CreatedAt: base})
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	again := stats.New(stats.Config{}, &store.blobStore, clock.NewFake(base), nil)
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, 2, again.Snapshot().Tickets.Total, "the older snapshot must not overwrite the newer one")
}
