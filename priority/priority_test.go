package priority_test

import (
	"testing"
	"time"

	"support-bot/priority"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func Test_Detect_Returns_Expected_Level(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		category string
		want     priority.Level
	}{
		{"critical keywords", "this is DOWN and CRITICAL!!!", "soporte", priority.Critical},
		{"medium keyword never raises question category", "just a question", "pregunta", priority.Low},
		{"billing base already high", "my payment failed!!!", "billing", priority.High},
		{"report base", "the button is misaligned", "reporte", priority.High},
		{"unknown category defaults to medium", "hello", "other", priority.Medium},
		{"high keyword", "we are blocked on deploys", "soporte", priority.High},
		{"production impact", "checkout slow in production", "feature", priority.High},
		{"spanish impact term", "hay clientes afectados", "pregunta", priority.High},
		{"exclamation marks", "please look!!!", "pregunta", priority.High},
		{"two exclamation marks are not enough", "please look!!", "pregunta", priority.Low},
		{"critical beats production", "production is down", "soporte", priority.Critical},
		{"case insensitive", "EMERGENCY", "feature", priority.Critical},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, priority.Detect(tc.text, tc.category))
		})
	}
}

func Test_Detect_Is_Deterministic(t *testing.T) {
	t.Parallel()

	first := priority.Detect("server crash in production!!!", "soporte")
	for range 50 {
		assert.Equal(t, first, priority.Detect("server crash in production!!!", "soporte"))
	}
}

func Test_CheckSLA_Reports_Violation_When_Critical_Closed_After_90_Minutes(t *testing.T) {
	t.Parallel()

	closed := t0.Add(90 * time.Minute)
	got := priority.CheckSLA(priority.Critical, t0, &closed, t0.Add(48*time.Hour))

	assert.True(t, got.Violated)
	assert.Equal(t, 150, got.Percentage)
	assert.Equal(t, 30*time.Minute, got.Over)
	assert.Equal(t, time.Hour, got.SLA)
}

func Test_CheckSLA_Uses_Now_When_Ticket_Is_Open(t *testing.T) {
	t.Parallel()

	got := priority.CheckSLA(priority.High, t0, nil, t0.Add(2*time.Hour))

	assert.False(t, got.Violated)
	assert.Equal(t, 50, got.Percentage)
	assert.Zero(t, got.Over)
}

func Test_NextHigher_Walks_Up_The_Table(t *testing.T) {
	t.Parallel()

	next, ok := priority.NextHigher(priority.Low)
	require.True(t, ok)
	assert.Equal(t, priority.Medium, next)

	next, ok = priority.NextHigher(priority.High)
	require.True(t, ok)
	assert.Equal(t, priority.Critical, next)

	_, ok = priority.NextHigher(priority.Critical)
	assert.False(t, ok)
}

func Test_NeedsEscalation_Only_For_Unclaimed_Past_Delay(t *testing.T) {
	t.Parallel()

	assert.False(t, priority.NeedsEscalation(priority.Critical, t0, false, t0.Add(15*time.Minute)))
	assert.True(t, priority.NeedsEscalation(priority.Critical, t0, false, t0.Add(16*time.Minute)))
	assert.False(t, priority.NeedsEscalation(priority.Critical, t0, true, t0.Add(time.Hour)))
}

func Test_Parse_Rejects_Unknown_Level(t *testing.T) {
	t.Parallel()

	l, err := priority.Parse(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, priority.High, l)

	_, err = priority.Parse("urgentish")
	assert.Error(t, err)
}

func Test_CalculateMetrics_Aggregates_Per_Level(t *testing.T) {
	t.Parallel()

	closedFast := t0.Add(30 * time.Minute)
	closedSlow := t0.Add(3 * time.Hour)
	closedMedium := t0.Add(2*time.Hour + 30*time.Minute)

	samples := []priority.Sample{
		{Priority: priority.Critical, CreatedAt: t0, ClosedAt: &closedFast},
		{Priority: priority.Critical, CreatedAt: t0, ClosedAt: &closedSlow, Escalated: true},
		{Priority: priority.Medium, CreatedAt: t0, ClosedAt: &closedMedium},
		{Priority: priority.Low, CreatedAt: t0},
		{Priority: "", CreatedAt: t0, Escalated: true},
	}

	got := priority.CalculateMetrics(samples, t0.Add(4*time.Hour))

	want := priority.Metrics{
		Distribution: map[priority.Level]int{
			priority.Critical: 2, priority.High: 0, priority.Medium: 2, priority.Low: 1,
		},
		SLACompliance: map[priority.Level]int{
			priority.Critical: 50, priority.High: 0, priority.Medium: 50, priority.Low: 0,
		},
		AvgResolution: map[priority.Level]string{
			priority.Critical: "1h 45m", priority.High: "N/A", priority.Medium: "2h 30m", priority.Low: "N/A",
		},
		Escalations: 2,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("metrics mismatch (-want +got):\n%s", diff)
	}
}

func Test_FormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45m", priority.FormatDuration(45*time.Minute))
	assert.Equal(t, "2h 5m", priority.FormatDuration(2*time.Hour+5*time.Minute+30*time.Second))
	assert.Equal(t, "0m", priority.FormatDuration(0))
}
