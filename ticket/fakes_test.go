package ticket_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"support-bot/clock"
	"support-bot/events"
	"support-bot/notify"
	"support-bot/ticket"

	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC)

type memRepo struct {
	mu        sync.Mutex
	tickets   map[string]ticket.Ticket
	state     ticket.State
	commits   int
	commitErr error
	// gate, when set, runs before every commit outside the lock.
	gate func(ticket.Change)
}

func newMemRepo() *memRepo {
	return &memRepo{tickets: map[string]ticket.Ticket{}, state: ticket.NewState()}
}

func (r *memRepo) Load(context.Context) ([]ticket.Ticket, ticket.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ticket.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, t.Clone())
	}
	return out, r.state.Clone(), nil
}

func (r *memRepo) Get(_ context.Context, id string) (ticket.Ticket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	return t.Clone(), ok, nil
}

func (r *memRepo) List(ctx context.Context) ([]ticket.Ticket, error) {
	list, _, err := r.Load(ctx)
	return list, err
}

func (r *memRepo) Upsert(ctx context.Context, t ticket.Ticket) error {
	return r.Commit(ctx, ticket.Change{Tickets: []ticket.Ticket{t}})
}

func (r *memRepo) Commit(_ context.Context, c ticket.Change) error {
	if r.gate != nil {
		r.gate(c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.commits++
	for _, t := range c.Tickets {
		r.tickets[t.ID] = t.Clone()
	}
	for _, id := range c.Deleted {
		delete(r.tickets, id)
	}
	if c.State != nil {
		r.state = c.State.Clone()
	}
	return nil
}

type fakePlatform struct {
	mu        sync.Mutex
	next      int
	created   []ticket.ChannelSpec
	deleted   []string
	added     map[string][]string
	removed   []string
	createErr error
	delay     time.Duration
}

func (p *fakePlatform) CreateChannel(_ context.Context, spec ticket.ChannelSpec) (string, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.next++
	p.created = append(p.created, spec)
	return fmt.Sprintf("chan-%d", p.next), nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return nil
}

func (p *fakePlatform) AddMember(_ context.Context, ch, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.added == nil {
		p.added = map[string][]string{}
	}
	p.added[ch] = append(p.added[ch], user)
	return nil
}

func (p *fakePlatform) RemoveMember(_ context.Context, ch, user string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, ch+"/"+user)
	return nil
}

func (p *fakePlatform) deletedChannels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

type recorder struct {
	mu        sync.Mutex
	created   int
	claimed   int
	closed    int
	reopened  int
	ratings   []int
	escalated int
	reminders int
	surveys   int
	notified  []string
}

func (r *recorder) RecordCreated(context.Context, ticket.Ticket)  { r.inc(&r.created) }
func (r *recorder) RecordClaimed(context.Context, ticket.Ticket)  { r.inc(&r.claimed) }
func (r *recorder) RecordClosed(context.Context, ticket.Ticket)   { r.inc(&r.closed) }
func (r *recorder) RecordReopened(context.Context, ticket.Ticket) { r.inc(&r.reopened) }
func (r *recorder) RecordSatisfaction(_ context.Context, _ ticket.Ticket, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratings = append(r.ratings, n)
}

func (r *recorder) TicketClaimed(context.Context, ticket.Ticket)  { r.note("claimed") }
func (r *recorder) TicketClosed(context.Context, ticket.Ticket)   { r.note("closed") }
func (r *recorder) TicketReopened(context.Context, ticket.Ticket) { r.note("reopened") }
func (r *recorder) TicketEscalated(context.Context, ticket.Ticket) {
	r.inc(&r.escalated)
	r.note("escalated")
}
func (r *recorder) Reminder(context.Context, ticket.Ticket) { r.inc(&r.reminders) }
func (r *recorder) Survey(context.Context, ticket.Ticket)   { r.inc(&r.surveys) }

func (r *recorder) inc(p *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*p++
}

func (r *recorder) note(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, s)
}

func (r *recorder) count(p *int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *p
}

type transcriber struct {
	err   error
	calls int
}

func (tr *transcriber) Generate(context.Context, ticket.Ticket) error {
	tr.calls++
	return tr.err
}

type harness struct {
	svc      *ticket.Service
	repo     *memRepo
	platform *fakePlatform
	rec      *recorder
	clock    *clock.Fake
	sched    *notify.Scheduler
	bus      *events.Bus
	trans    *transcriber
}

var (
	staff = ticket.Actor{ID: "900000000000000001", Name: "staff", Staff: true}
	admin = ticket.Actor{ID: "900000000000000002", Name: "admin", Staff: true, Admin: true}
	user  = ticket.Actor{ID: "100000000000000001", Name: "alice"}
)

func newHarness(t *testing.T, mutate func(*ticket.Config)) *harness {
	t.Helper()
	return newHarnessWithRepo(t, newMemRepo(), mutate)
}

func newHarnessWithRepo(t *testing.T, repo *memRepo, mutate func(*ticket.Config)) *harness {
	t.Helper()
	cfg := ticket.Config{
		Categories:    []string{"soporte", "reporte", "pregunta", "billing", "feature"},
		MaxPerDay:     5,
		CloseDelay:    5 * time.Second,
		SurveyDelay:   5 * time.Minute,
		ReminderAfter: 24 * time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		repo:     repo,
		platform: &fakePlatform{},
		rec:      &recorder{},
		clock:    clock.NewFake(day1),
		bus:      events.NewBus(),
		trans:    &transcriber{},
	}
	h.sched = notify.NewScheduler(h.clock, nil)

	svc, err := ticket.NewService(cfg, ticket.Deps{
		Repo:        h.repo,
		Platform:    h.platform,
		Stats:       h.rec,
		Notifier:    h.rec,
		Scheduler:   h.sched,
		Transcripts: h.trans,
		Events:      h.bus,
		Clock:       h.clock,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))
	h.svc = svc
	return h
}

func (h *harness) create(t *testing.T, userID, category, text string) ticket.Ticket {
	t.Helper()
	tk, err := h.svc.Create(context.Background(), ticket.CreateRequest{
		GuildID: "guild", UserID: userID, Username: "Alice Smith", Category: category, Description: text,
	})
	require.NoError(t, err)
	return tk
}

var errBoom = errors.New("boom")
