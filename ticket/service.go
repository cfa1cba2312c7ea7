package ticket

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"support-bot/clock"
	"support-bot/events"
	"support-bot/priority"

	"go.uber.org/zap"
)

type Config struct {
	// Categories lists the accepted category ids.
	Categories    []string
	MaxPerDay     int
	CloseDelay    time.Duration
	SurveyDelay   time.Duration
	ReminderAfter time.Duration
	// Location decides where a calendar day starts for the daily quota.
	Location *time.Location
}

type Deps struct {
	Repo        Repository
	Platform    Platform
	Stats       Recorder
	Notifier    Notifier
	Scheduler   Scheduler
	Transcripts Transcriber
	Events      events.Publisher
	Locker      Locker
	Clock       clock.Clock
	Logger      *zap.Logger
}

type Service struct {
	cfg Config

	repo        Repository
	platform    Platform
	stats       Recorder
	notifier    Notifier
	sched       Scheduler
	transcripts Transcriber
	events      events.Publisher
	locker      Locker
	clock       clock.Clock
	log         *zap.Logger

	mu        sync.Mutex
	tickets   map[string]*Ticket
	byChannel map[string]string
	state     State
	seq       uint64 // last snapshot handed to commit

	// Commits reach the repository in snapshot order.
	commitMu   sync.Mutex
	commitCond *sync.Cond
	committed  uint64
}

func NewService(cfg Config, d Deps) (*Service, error) {
	if d.Repo == nil || d.Platform == nil || d.Scheduler == nil {
		return nil, fmt.Errorf("ticket: repository, platform and scheduler are required")
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Service{
		cfg:         cfg,
		repo:        d.Repo,
		platform:    d.Platform,
		stats:       d.Stats,
		notifier:    d.Notifier,
		sched:       d.Scheduler,
		transcripts: d.Transcripts,
		events:      d.Events,
		locker:      d.Locker,
		clock:       d.Clock,
		log:         d.Logger.Named("ticket"),
		tickets:     make(map[string]*Ticket),
		byChannel:   make(map[string]string),
		state:       NewState(),
	}
	s.commitCond = sync.NewCond(&s.commitMu)
	return s, nil
}

// Load replaces the in-memory table with the repository contents.
func (s *Service) Load(ctx context.Context) error {
	list, st, err := s.repo.Load(ctx)
	if err != nil {
		return wrapError(KindPersistence, "load", err)
	}
	st.normalize()

	tickets := make(map[string]*Ticket, len(list))
	byChannel := make(map[string]string, len(list))
	openPerUser := make(map[string]int)
	for i := range list {
		t := list[i].Clone()
		if t.Priority == "" {
			t.Priority = priority.Medium
		}
		tickets[t.ID] = &t
		for _, ch := range t.PreviousChannels {
			byChannel[ch] = t.ID
		}
		if t.ChannelID != "" {
			byChannel[t.ChannelID] = t.ID
		}
		if t.IsOpen {
			openPerUser[t.UserID]++
		}
		// The counter never goes backwards even if state lags the records.
		var n int64
		if _, err := fmt.Sscanf(t.ID, "T-%d", &n); err == nil && n > st.LastID {
			st.LastID = n
		}
	}
	for user, n := range openPerUser {
		if n > 1 {
			s.log.Warn("user has more than one open ticket in storage", zap.String("user_id", user), zap.Int("open", n))
		}
	}

	s.mu.Lock()
	s.tickets = tickets
	s.byChannel = byChannel
	s.state = st
	s.mu.Unlock()

	s.log.Info("tickets loaded", zap.Int("tickets", len(tickets)), zap.Int64("last_id", st.LastID))
	return nil
}

// Reload drops every pending ticket timer, reloads from the repository and
// restores escalations. Used after a backup restore.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tickets))
	for id := range s.tickets {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.cancelTimers(id)
	}
	if err := s.Load(ctx); err != nil {
		return err
	}
	s.RestoreEscalations(ctx)
	return nil
}

// RestoreEscalations re-arms escalation and reminder timers for open tickets
// after a restart. Escalations already past due fire right away.
func (s *Service) RestoreEscalations(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	var pending []Ticket
	var changed []Ticket
	for _, t := range s.tickets {
		if !t.IsOpen {
			continue
		}
		if !t.Claimed() && !t.Escalated && t.EscalationDueAt == nil {
			t.EscalationDueAt = timePtr(priority.EscalationDue(t.Priority, t.IncarnationStart()))
			changed = append(changed, t.Clone())
		}
		pending = append(pending, t.Clone())
	}
	var seq uint64
	if len(changed) > 0 {
		seq = s.nextSeqLocked()
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.commit(ctx, seq, "restore", Change{Tickets: changed})
	}

	restored := 0
	for _, t := range pending {
		if t.EscalationDueAt != nil && !t.Claimed() && !t.Escalated {
			if t.EscalationDueAt.After(now) {
				s.scheduleEscalation(t)
			} else {
				s.escalate(ctx, t.ID)
			}
			restored++
		}
		if s.cfg.ReminderAfter > 0 && s.notifier != nil {
			if at := t.IncarnationStart().Add(s.cfg.ReminderAfter); at.After(now) {
				s.scheduleReminder(t.ID, at)
			}
		}
	}
	if restored > 0 {
		s.log.Info("escalations restored", zap.Int("count", restored))
	}
	return restored
}

// SweepEscalations escalates every open, unclaimed ticket whose escalation
// is due. It complements the timers and is safe to run periodically.
func (s *Service) SweepEscalations(ctx context.Context) int {
	now := s.clock.Now()
	s.mu.Lock()
	var due []string
	for id, t := range s.tickets {
		if t.IsOpen && !t.Claimed() && !t.Escalated && t.EscalationDueAt != nil && !t.EscalationDueAt.After(now) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range due {
		if s.escalate(ctx, id) {
			n++
		}
	}
	return n
}

// Shutdown cancels every ticket timer. Persisted due dates survive.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.tickets))
	for id := range s.tickets {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.cancelTimers(id)
	}
}

func (s *Service) Categories() []string { return slices.Clone(s.cfg.Categories) }

func (s *Service) validCategory(c string) bool {
	return slices.Contains(s.cfg.Categories, c)
}

func (s *Service) day(t time.Time) string {
	return t.In(s.cfg.Location).Format("2006-01-02")
}

// Get returns a ticket by its ticket id.
func (s *Service) Get(id string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, false
	}
	return t.Clone(), true
}

// GetByChannel resolves the current or any previous channel of a ticket.
func (s *Service) GetByChannel(channelID string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byChannelLocked(channelID)
	if t == nil {
		return Ticket{}, false
	}
	return t.Clone(), true
}

func (s *Service) byChannelLocked(channelID string) *Ticket {
	id, ok := s.byChannel[channelID]
	if !ok {
		return nil
	}
	return s.tickets[id]
}

// OpenFor returns the user's open ticket, if any.
func (s *Service) OpenFor(userID string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.openForLocked(userID); t != nil {
		return t.Clone(), true
	}
	return Ticket{}, false
}

func (s *Service) openForLocked(userID string) *Ticket {
	for _, t := range s.tickets {
		if t.IsOpen && t.UserID == userID {
			return t
		}
	}
	return nil
}

type Status int

const (
	StatusAll Status = iota
	StatusOpen
	StatusClosed
)

type Filter struct {
	Status Status
	UserID string
}

// List returns matching tickets ordered by creation time.
func (s *Service) List(f Filter) []Ticket {
	s.mu.Lock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		switch {
		case f.Status == StatusOpen && !t.IsOpen,
			f.Status == StatusClosed && t.IsOpen,
			f.UserID != "" && t.UserID != f.UserID:
			continue
		}
		out = append(out, t.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Ticket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Snapshot returns a consistent copy of every ticket and the guard state.
func (s *Service) Snapshot() ([]Ticket, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t.Clone())
	}
	slices.SortFunc(out, func(a, b Ticket) int { return cmp.Compare(a.ID, b.ID) })
	return out, s.state.Clone()
}

// Samples projects every ticket for priority metrics.
func (s *Service) Samples() []priority.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]priority.Sample, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t.Sample())
	}
	return out
}

// nextSeqLocked numbers a snapshot. Every number handed out must reach
// commit, or later commits wait forever.
func (s *Service) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// commit writes c once every earlier snapshot has been written, so a slow
// commit cannot land after a newer one for the same record.
func (s *Service) commit(ctx context.Context, seq uint64, op string, c Change) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	for s.committed+1 != seq {
		s.commitCond.Wait()
	}
	defer func() {
		s.committed = seq
		s.commitCond.Broadcast()
	}()

	if err := s.repo.Commit(ctx, c); err != nil {
		// The in-memory table stays authoritative; the next successful
		// commit of the same record heals the store.
		s.log.Error("persist failed", zap.String("op", op), zap.Error(wrapError(KindPersistence, op, err)))
	}
}

func (s *Service) publish(ctx context.Context, typ events.Type, t Ticket, actorID string, data map[string]string) {
	if s.events == nil {
		return
	}
	e := events.New(typ, t.ID, s.clock.Now())
	e.ChannelID = t.ChannelID
	e.GuildID = t.GuildID
	e.UserID = t.UserID
	e.ActorID = actorID
	e.Category = t.Category
	e.Priority = string(t.Priority)
	e.Data = data
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", zap.String("event", string(typ)), zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func escalationKey(id string) string { return "escalate:" + id }
func reminderKey(id string) string   { return "remind:" + id }
func surveyKey(id string) string     { return "survey:" + id }
func deleteKey(ch string) string     { return "delete:" + ch }

func (s *Service) scheduleEscalation(t Ticket) {
	if t.EscalationDueAt == nil || !t.IsOpen || t.Claimed() || t.Escalated {
		return
	}
	id := t.ID
	s.sched.Schedule(escalationKey(id), *t.EscalationDueAt, func() {
		s.escalate(context.Background(), id)
	})
}

func (s *Service) scheduleReminder(id string, at time.Time) {
	s.sched.Schedule(reminderKey(id), at, func() {
		t, ok := s.Get(id)
		if !ok || !t.IsOpen || s.notifier == nil {
			return
		}
		s.notifier.Reminder(context.Background(), t)
	})
}

func (s *Service) cancelTimers(id string) {
	s.sched.Cancel(escalationKey(id))
	s.sched.Cancel(reminderKey(id))
}

// escalate marks an unclaimed open ticket escalated and alerts managers.
// It is idempotent and reports whether it changed anything.
func (s *Service) escalate(ctx context.Context, id string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	t, ok := s.tickets[id]
	if !ok || !t.IsOpen || t.Claimed() || t.Escalated {
		s.mu.Unlock()
		return false
	}
	t.Escalated = true
	t.EscalatedAt = timePtr(now)
	t.EscalationDueAt = nil
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.sched.Cancel(escalationKey(id))
	s.commit(ctx, seq, "escalate", Change{Tickets: []Ticket{snap}})
	s.log.Info("ticket escalated", zap.String("ticket_id", id), zap.String("priority", string(snap.Priority)))

	if s.notifier != nil {
		s.notifier.TicketEscalated(ctx, snap)
	}
	s.publish(ctx, events.TicketEscalated, snap, "", nil)
	return true
}

func trimmed(s string) string { return strings.TrimSpace(s) }
