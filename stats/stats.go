// Package stats keeps the running ticket aggregate (counts by status,
// category, priority and day, plus per-staff samples) and derives reports
// from it on demand.
package stats

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"support-bot/clock"
	"support-bot/priority"
	"support-bot/ticket"

	"go.uber.org/zap"
)

const blobKey = "stats"

// escalationThreshold marks a response sample as slow for the escalation
// rate.
const escalationThreshold = 4 * time.Hour

// Store persists the aggregate as a single blob.
type Store interface {
	GetBlob(ctx context.Context, key string, v any) (bool, error)
	PutBlob(ctx context.Context, key string, v any) error
}

type TicketCounts struct {
	Total      int            `json:"total"`
	Open       int            `json:"open"`
	Closed     int            `json:"closed"`
	Reopened   int            `json:"reopened"`
	ByCategory map[string]int `json:"by_category"`
	ByPriority map[string]int `json:"by_priority"`
	ByMonth    map[string]int `json:"by_month"`
	ByDay      map[string]int `json:"by_day"`
}

// StaffSamples holds the raw per-staff samples every derived metric is
// computed from.
type StaffSamples struct {
	TicketsHandled map[string]int             `json:"tickets_handled"`
	ResponseTime   map[string][]time.Duration `json:"response_time"`
	ResolutionTime map[string][]time.Duration `json:"resolution_time"`
	Satisfaction   map[string][]int           `json:"satisfaction"`
}

type Aggregate struct {
	Tickets TicketCounts `json:"tickets"`
	Staff   StaffSamples `json:"staff"`
}

func newAggregate() Aggregate {
	a := Aggregate{}
	a.normalize()
	return a
}

func (a *Aggregate) normalize() {
	if a.Tickets.ByCategory == nil {
		a.Tickets.ByCategory = map[string]int{}
	}
	if a.Tickets.ByPriority == nil {
		a.Tickets.ByPriority = map[string]int{}
	}
	for _, l := range priority.Levels {
		if _, ok := a.Tickets.ByPriority[string(l)]; !ok {
			a.Tickets.ByPriority[string(l)] = 0
		}
	}
	if a.Tickets.ByMonth == nil {
		a.Tickets.ByMonth = map[string]int{}
	}
	if a.Tickets.ByDay == nil {
		a.Tickets.ByDay = map[string]int{}
	}
	if a.Staff.TicketsHandled == nil {
		a.Staff.TicketsHandled = map[string]int{}
	}
	if a.Staff.ResponseTime == nil {
		a.Staff.ResponseTime = map[string][]time.Duration{}
	}
	if a.Staff.ResolutionTime == nil {
		a.Staff.ResolutionTime = map[string][]time.Duration{}
	}
	if a.Staff.Satisfaction == nil {
		a.Staff.Satisfaction = map[string][]int{}
	}
}

func (a Aggregate) clone() Aggregate {
	c := Aggregate{Tickets: a.Tickets, Staff: StaffSamples{}}
	c.Tickets.ByCategory = maps.Clone(a.Tickets.ByCategory)
	c.Tickets.ByPriority = maps.Clone(a.Tickets.ByPriority)
	c.Tickets.ByMonth = maps.Clone(a.Tickets.ByMonth)
	c.Tickets.ByDay = maps.Clone(a.Tickets.ByDay)
	c.Staff.TicketsHandled = maps.Clone(a.Staff.TicketsHandled)
	c.Staff.ResponseTime = cloneSamples(a.Staff.ResponseTime)
	c.Staff.ResolutionTime = cloneSamples(a.Staff.ResolutionTime)
	c.Staff.Satisfaction = make(map[string][]int, len(a.Staff.Satisfaction))
	for k, v := range a.Staff.Satisfaction {
		c.Staff.Satisfaction[k] = slices.Clone(v)
	}
	c.normalize()
	return c
}

func cloneSamples(in map[string][]time.Duration) map[string][]time.Duration {
	out := make(map[string][]time.Duration, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

type Config struct {
	// ReportDir receives monthly report files.
	ReportDir string
	// Location decides day and month boundaries.
	Location *time.Location
}

// Manager records lifecycle transitions into the aggregate. It satisfies
// ticket.Recorder.
type Manager struct {
	cfg   Config
	store Store
	clock clock.Clock
	log   *zap.Logger

	mu  sync.Mutex
	agg Aggregate

	// saveMu is held from snapshot to write so blobs land in order.
	saveMu sync.Mutex
}

var _ ticket.Recorder = (*Manager)(nil)

func New(cfg Config, store Store, c clock.Clock, log *zap.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, store: store, clock: c, log: log.Named("stats"), agg: newAggregate()}
}

// Load replaces the aggregate with the stored one. A missing blob starts
// from zero.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	agg := newAggregate()
	found, err := m.store.GetBlob(ctx, blobKey, &agg)
	if err != nil {
		return err
	}
	agg.normalize()

	m.mu.Lock()
	if found {
		m.agg = agg
	} else {
		m.agg = newAggregate()
	}
	m.mu.Unlock()
	if !found {
		m.log.Info("starting with empty statistics")
	}
	return nil
}

// update applies fn under the lock and persists the result.
func (m *Manager) update(ctx context.Context, fn func(a *Aggregate)) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	fn(&m.agg)
	snap := m.agg.clone()
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	if err := m.store.PutBlob(ctx, blobKey, snap); err != nil {
		m.log.Error("saving statistics failed", zap.Error(err))
	}
}

func (m *Manager) dayKey(t time.Time) string   { return t.In(m.cfg.Location).Format("2006-01-02") }
func (m *Manager) monthKey(t time.Time) string { return t.In(m.cfg.Location).Format("2006-01") }

func (m *Manager) RecordCreated(ctx context.Context, t ticket.Ticket) {
	category := t.Category
	if category == "" {
		category = "other"
	}
	level := t.Priority
	if !level.Valid() {
		level = priority.Medium
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = m.clock.Now()
	}

	m.update(ctx, func(a *Aggregate) {
		a.Tickets.Total++
		a.Tickets.Open++
		a.Tickets.ByCategory[category]++
		a.Tickets.ByPriority[string(level)]++
		a.Tickets.ByMonth[m.monthKey(created)]++
		a.Tickets.ByDay[m.dayKey(created)]++
	})
}

// RecordClaimed stores the time from creation to claim as a response
// sample for the claiming staff member.
func (m *Manager) RecordClaimed(ctx context.Context, t ticket.Ticket) {
	if t.ClaimedBy == "" {
		return
	}
	at := m.clock.Now()
	if t.ClaimedAt != nil {
		at = *t.ClaimedAt
	}
	response := max(at.Sub(t.CreatedAt), 0)

	m.update(ctx, func(a *Aggregate) {
		a.Staff.ResponseTime[t.ClaimedBy] = append(a.Staff.ResponseTime[t.ClaimedBy], response)
	})
}

func (m *Manager) RecordClosed(ctx context.Context, t ticket.Ticket) {
	at := m.clock.Now()
	if t.ClosedAt != nil {
		at = *t.ClosedAt
	}
	resolution := max(at.Sub(t.CreatedAt), 0)

	m.update(ctx, func(a *Aggregate) {
		if a.Tickets.Open > 0 {
			a.Tickets.Open--
		}
		a.Tickets.Closed++
		if t.ClaimedBy != "" {
			a.Staff.TicketsHandled[t.ClaimedBy]++
			a.Staff.ResolutionTime[t.ClaimedBy] = append(a.Staff.ResolutionTime[t.ClaimedBy], resolution)
		}
	})
}

func (m *Manager) RecordReopened(ctx context.Context, _ ticket.Ticket) {
	m.update(ctx, func(a *Aggregate) {
		if a.Tickets.Closed > 0 {
			a.Tickets.Closed--
		}
		a.Tickets.Open++
		a.Tickets.Reopened++
	})
}

// RecordSatisfaction credits the rating to the staff member who claimed
// the ticket, or to whoever closed it when nobody did.
func (m *Manager) RecordSatisfaction(ctx context.Context, t ticket.Ticket, rating int) {
	if rating < 1 || rating > 5 {
		return
	}
	staffID := t.ClaimedBy
	if staffID == "" {
		staffID = t.ClosedBy
	}
	if staffID == "" {
		return
	}
	m.update(ctx, func(a *Aggregate) {
		a.Staff.Satisfaction[staffID] = append(a.Staff.Satisfaction[staffID], rating)
	})
}

// Snapshot returns a deep copy of the aggregate.
func (m *Manager) Snapshot() Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agg.clone()
}

// Metrics are recomputed from the raw samples on every call.
type Metrics struct {
	AvgResponseTime      time.Duration `json:"avg_response_time"`
	AvgResolutionTime    time.Duration `json:"avg_resolution_time"`
	CustomerSatisfaction float64       `json:"customer_satisfaction"`
	Ratings              int           `json:"ratings"`
	EscalationRate       float64       `json:"escalation_rate"`
}

func computeMetrics(a Aggregate) Metrics {
	var m Metrics

	responses := flatten(a.Staff.ResponseTime)
	if len(responses) > 0 {
		m.AvgResponseTime = average(responses)
		slow := 0
		for _, d := range responses {
			if d > escalationThreshold {
				slow++
			}
		}
		m.EscalationRate = float64(slow) / float64(len(responses)) * 100
	}
	if resolutions := flatten(a.Staff.ResolutionTime); len(resolutions) > 0 {
		m.AvgResolutionTime = average(resolutions)
	}

	total := 0
	for _, ratings := range a.Staff.Satisfaction {
		for _, r := range ratings {
			total += r
			m.Ratings++
		}
	}
	if m.Ratings > 0 {
		m.CustomerSatisfaction = float64(total) / float64(m.Ratings)
	}
	return m
}

func (m *Manager) Metrics() Metrics {
	return computeMetrics(m.Snapshot())
}

func flatten(in map[string][]time.Duration) []time.Duration {
	var out []time.Duration
	for _, k := range slices.Sorted(maps.Keys(in)) {
		out = append(out, in[k]...)
	}
	return out
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func round1(f float64) float64 {
	if f < 0 {
		return -round1(-f)
	}
	return float64(int64(f*10+0.5)) / 10
}
