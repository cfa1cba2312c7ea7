package ticket

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"support-bot/events"
	"support-bot/priority"

	"go.uber.org/zap"
)

type CreateRequest struct {
	GuildID     string
	UserID      string
	Username    string
	Category    string
	Description string
}

// CanCreate evaluates the creation guards against the current state without
// changing anything.
func (s *Service) CanCreate(userID, category string) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardLocked("create", userID, category, now)
}

// guardLocked reports the first failing guard in the order blacklist,
// duplicate, quota, maintenance, category.
func (s *Service) guardLocked(op, userID, category string, now time.Time) error {
	if s.state.Blacklist[userID] {
		return newError(KindBlocked, op, "")
	}
	if open := s.openForLocked(userID); open != nil {
		return newError(KindDuplicate, op, open.ChannelID)
	}
	if q, ok := s.state.Quotas[userID]; ok && q.LastCreated == s.day(now) && q.Count >= s.cfg.MaxPerDay {
		return newError(KindQuotaExceeded, op, strconv.Itoa(q.Count))
	}
	if s.state.Maintenance {
		return newError(KindMaintenance, op, s.state.MaintenanceReason)
	}
	if !s.validCategory(category) {
		return newError(KindInvalidCategory, op, category)
	}
	return nil
}

// Create opens a new ticket. Calls for the same user are serialized so the
// one-open-ticket and daily quota guards cannot be passed twice.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Ticket, error) {
	const op = "create"

	desc := trimmed(req.Description)
	if req.UserID == "" || desc == "" {
		return Ticket{}, newError(KindInvalidInput, op, "user and description are required")
	}

	unlock, err := s.locker.Lock(ctx, userLockKey(req.UserID))
	if err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}
	defer unlock()

	if err := s.CanCreate(req.UserID, req.Category); err != nil {
		return Ticket{}, err
	}

	level := priority.Detect(desc, req.Category)
	channelID, err := s.platform.CreateChannel(ctx, ChannelSpec{
		GuildID:  req.GuildID,
		Category: req.Category,
		Name:     ChannelName(req.Username, req.UserID),
		OwnerID:  req.UserID,
		Topic:    fmt.Sprintf("%s | %s | %s", req.Category, level, req.UserID),
	})
	if err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	// Admin actions (blacklist, maintenance) may have landed while the
	// channel was being created.
	if err := s.guardLocked(op, req.UserID, req.Category, now); err != nil {
		s.mu.Unlock()
		s.deleteChannel(ctx, channelID)
		return Ticket{}, err
	}

	s.state.LastID++
	day := s.day(now)
	q := s.state.Quotas[req.UserID]
	if q.LastCreated != day {
		q = Quota{LastCreated: day}
	}
	q.Count++
	s.state.Quotas[req.UserID] = q

	t := &Ticket{
		ID:              fmt.Sprintf("T-%04d", s.state.LastID),
		ChannelID:       channelID,
		GuildID:         req.GuildID,
		UserID:          req.UserID,
		Username:        req.Username,
		Category:        req.Category,
		Description:     desc,
		Priority:        level,
		IsOpen:          true,
		CreatedAt:       now,
		EscalationDueAt: timePtr(priority.EscalationDue(level, now)),
		Incarnation:     1,
	}
	s.tickets[t.ID] = t
	s.byChannel[channelID] = t.ID
	snap := t.Clone()
	st := s.state.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}, State: &st})
	s.log.Info("ticket created",
		zap.String("ticket_id", snap.ID),
		zap.String("channel_id", channelID),
		zap.String("user_id", snap.UserID),
		zap.String("category", snap.Category),
		zap.String("priority", string(level)),
	)

	if s.stats != nil {
		s.stats.RecordCreated(ctx, snap)
	}
	s.scheduleEscalation(snap)
	if s.cfg.ReminderAfter > 0 && s.notifier != nil {
		s.scheduleReminder(snap.ID, now.Add(s.cfg.ReminderAfter))
	}
	s.publish(ctx, events.TicketCreated, snap, snap.UserID, nil)
	return snap, nil
}

// Claim assigns an open, unclaimed ticket to a staff member and stops its
// escalation.
func (s *Service) Claim(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	const op = "claim"
	if !actor.Staff {
		return Ticket{}, newError(KindNotStaff, op, "")
	}
	now := s.clock.Now()

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	if t.Claimed() {
		claimedBy := t.ClaimedBy
		s.mu.Unlock()
		return Ticket{}, newError(KindAlreadyClaimed, op, claimedBy)
	}
	t.ClaimedBy = actor.ID
	t.ClaimedAt = timePtr(now)
	t.EscalationDueAt = nil
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.sched.Cancel(escalationKey(snap.ID))
	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	s.log.Info("ticket claimed", zap.String("ticket_id", snap.ID), zap.String("staff_id", actor.ID))

	if s.stats != nil {
		s.stats.RecordClaimed(ctx, snap)
	}
	if s.notifier != nil {
		s.notifier.TicketClaimed(ctx, snap)
	}
	s.publish(ctx, events.TicketClaimed, snap, actor.ID, nil)
	return snap, nil
}

// checkCurrentOpen rejects missing tickets, closed tickets and channels that
// belong to an earlier incarnation.
func checkCurrentOpen(op string, t *Ticket, channelID string) error {
	if t == nil {
		return newError(KindNotFound, op, channelID)
	}
	if !t.IsOpen || t.ChannelID != channelID {
		return newError(KindAlreadyClosed, op, t.ID)
	}
	return nil
}

// ChangePriority sets a new level on an open ticket and records who changed
// it. A pending escalation is re-armed for the new level.
func (s *Service) ChangePriority(ctx context.Context, channelID string, actor Actor, level priority.Level, reason string) (Ticket, error) {
	const op = "change_priority"
	if !actor.Staff {
		return Ticket{}, newError(KindNotStaff, op, "")
	}
	if !level.Valid() {
		return Ticket{}, newError(KindInvalidInput, op, string(level))
	}
	now := s.clock.Now()

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	if t.Priority == level {
		snap := t.Clone()
		s.mu.Unlock()
		return snap, nil
	}
	from := t.Priority
	t.PriorityHistory = append(t.PriorityHistory, PriorityChange{
		From:   from,
		To:     level,
		By:     actor.ID,
		At:     now,
		Reason: trimmed(reason),
	})
	t.Priority = level
	rearm := !t.Claimed() && !t.Escalated
	if rearm {
		t.EscalationDueAt = timePtr(priority.EscalationDue(level, t.IncarnationStart()))
	}
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	if rearm {
		s.scheduleEscalation(snap)
	}
	s.log.Info("priority changed",
		zap.String("ticket_id", snap.ID),
		zap.String("from", string(from)),
		zap.String("to", string(level)),
		zap.String("staff_id", actor.ID),
	)
	s.publish(ctx, events.TicketPriorityChanged, snap, actor.ID, map[string]string{"from": string(from), "to": string(level)})
	return snap, nil
}

// Close ends the current incarnation. The transcript is best effort; the
// channel is deleted after the configured delay either way.
func (s *Service) Close(ctx context.Context, channelID string, actor Actor, reason string) (Ticket, error) {
	const op = "close"
	if !actor.Staff {
		return Ticket{}, newError(KindNotStaff, op, "")
	}
	reason = trimmed(reason)
	if reason == "" {
		return Ticket{}, newError(KindInvalidInput, op, "a reason is required")
	}
	now := s.clock.Now()

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	t.IsOpen = false
	t.ClosedBy = actor.ID
	t.ClosedAt = timePtr(now)
	t.CloseReason = reason
	t.EscalationDueAt = nil
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.cancelTimers(snap.ID)
	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	s.log.Info("ticket closed", zap.String("ticket_id", snap.ID), zap.String("staff_id", actor.ID))

	if s.transcripts != nil {
		if err := s.transcripts.Generate(ctx, snap); err != nil {
			s.log.Warn("transcript failed, deleting without it", zap.String("ticket_id", snap.ID), zap.Error(err))
		}
	}
	if s.stats != nil {
		s.stats.RecordClosed(ctx, snap)
	}
	if s.notifier != nil {
		s.notifier.TicketClosed(ctx, snap)
		if s.cfg.SurveyDelay > 0 {
			id := snap.ID
			s.sched.Schedule(surveyKey(id), now.Add(s.cfg.SurveyDelay), func() {
				if t, ok := s.Get(id); ok && !t.IsOpen && t.Rating == 0 {
					s.notifier.Survey(context.Background(), t)
				}
			})
		}
	}
	s.sched.Schedule(deleteKey(channelID), now.Add(s.cfg.CloseDelay), func() {
		s.deleteChannel(context.Background(), channelID)
	})
	s.publish(ctx, events.TicketClosed, snap, actor.ID, map[string]string{"reason": reason})
	return snap, nil
}

func (s *Service) deleteChannel(ctx context.Context, channelID string) {
	if err := s.platform.DeleteChannel(ctx, channelID); err != nil {
		s.log.Warn("channel delete failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// Reopen starts a new incarnation of a closed ticket in a fresh channel.
// channelID may be the ticket's latest or any earlier channel.
func (s *Service) Reopen(ctx context.Context, channelID string, actor Actor) (Ticket, error) {
	const op = "reopen"
	if !actor.Staff {
		return Ticket{}, newError(KindNotStaff, op, "")
	}

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if t == nil {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotFound, op, channelID)
	}
	id, owner := t.ID, t.UserID
	s.mu.Unlock()

	unlock, err := s.locker.Lock(ctx, userLockKey(owner))
	if err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}
	defer unlock()

	check := func() (*Ticket, error) {
		t := s.tickets[id]
		if t == nil {
			return nil, newError(KindNotFound, op, channelID)
		}
		if t.IsOpen {
			return nil, newError(KindAlreadyOpen, op, t.ChannelID)
		}
		if open := s.openForLocked(owner); open != nil {
			return nil, newError(KindDuplicate, op, open.ChannelID)
		}
		return t, nil
	}

	s.mu.Lock()
	t, err = check()
	if err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	spec := ChannelSpec{
		GuildID:  t.GuildID,
		Category: t.Category,
		Name:     ChannelName(t.Username, t.UserID),
		OwnerID:  t.UserID,
		Topic:    fmt.Sprintf("%s | %s | %s | reopened", t.Category, t.Priority, t.UserID),
	}
	members := slices.Clone(t.Members)
	s.mu.Unlock()

	newChannel, err := s.platform.CreateChannel(ctx, spec)
	if err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}
	for _, m := range members {
		if err := s.platform.AddMember(ctx, newChannel, m); err != nil {
			s.log.Warn("re-adding member failed", zap.String("channel_id", newChannel), zap.String("user_id", m), zap.Error(err))
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	t, err = check()
	if err != nil {
		s.mu.Unlock()
		s.deleteChannel(ctx, newChannel)
		return Ticket{}, err
	}
	if t.ChannelID != "" {
		t.PreviousChannels = append(t.PreviousChannels, t.ChannelID)
	}
	t.ChannelID = newChannel
	t.IsOpen = true
	t.Incarnation++
	t.ReopenedBy = actor.ID
	t.ReopenedAt = timePtr(now)
	t.ClosedBy, t.ClosedAt, t.CloseReason = "", nil, ""
	t.ClaimedBy, t.ClaimedAt = "", nil
	t.Escalated, t.EscalatedAt = false, nil
	t.Rating = 0
	t.EscalationDueAt = timePtr(priority.EscalationDue(t.Priority, now))
	s.byChannel[newChannel] = t.ID
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.sched.Cancel(surveyKey(snap.ID))
	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	s.log.Info("ticket reopened",
		zap.String("ticket_id", snap.ID),
		zap.String("channel_id", newChannel),
		zap.Int("incarnation", snap.Incarnation),
		zap.String("staff_id", actor.ID),
	)

	if s.stats != nil {
		s.stats.RecordReopened(ctx, snap)
	}
	s.scheduleEscalation(snap)
	if s.cfg.ReminderAfter > 0 && s.notifier != nil {
		s.scheduleReminder(snap.ID, now.Add(s.cfg.ReminderAfter))
	}
	if s.notifier != nil {
		s.notifier.TicketReopened(ctx, snap)
	}
	s.publish(ctx, events.TicketReopened, snap, actor.ID, nil)
	return snap, nil
}

// AddMember gives another user access to an open ticket. Staff and the
// ticket owner may add members.
func (s *Service) AddMember(ctx context.Context, channelID string, actor Actor, userID string) (Ticket, error) {
	const op = "add_member"
	userID = trimmed(userID)
	if !ValidUserID(userID) {
		return Ticket{}, newError(KindInvalidInput, op, userID)
	}

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	if !actor.Staff && actor.ID != t.UserID {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotAuthorized, op, "")
	}
	if t.HasMember(userID) {
		snap := t.Clone()
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	if err := s.platform.AddMember(ctx, channelID, userID); err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}

	s.mu.Lock()
	t = s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	if !slices.Contains(t.Members, userID) {
		t.Members = append(t.Members, userID)
	}
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	return snap, nil
}

// RemoveMember revokes a member's access. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, channelID string, actor Actor, userID string) (Ticket, error) {
	const op = "remove_member"
	userID = trimmed(userID)
	if !ValidUserID(userID) {
		return Ticket{}, newError(KindInvalidInput, op, userID)
	}

	s.mu.Lock()
	t := s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	if !actor.Staff && actor.ID != t.UserID {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotAuthorized, op, "")
	}
	if userID == t.UserID {
		s.mu.Unlock()
		return Ticket{}, newError(KindInvalidInput, op, "cannot remove the ticket owner")
	}
	if !slices.Contains(t.Members, userID) {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotFound, op, userID)
	}
	s.mu.Unlock()

	if err := s.platform.RemoveMember(ctx, channelID, userID); err != nil {
		return Ticket{}, wrapError(KindExternal, op, err)
	}

	s.mu.Lock()
	t = s.byChannelLocked(channelID)
	if err := checkCurrentOpen(op, t, channelID); err != nil {
		s.mu.Unlock()
		return Ticket{}, err
	}
	t.Members = slices.DeleteFunc(t.Members, func(m string) bool { return m == userID })
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	return snap, nil
}

// Rate stores the owner's 1-5 satisfaction rating for a closed ticket. Each
// incarnation can be rated once.
func (s *Service) Rate(ctx context.Context, ticketID, userID string, rating int) (Ticket, error) {
	const op = "rate"
	if rating < 1 || rating > 5 {
		return Ticket{}, newError(KindInvalidInput, op, strconv.Itoa(rating))
	}

	s.mu.Lock()
	t, ok := s.tickets[ticketID]
	if !ok {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotFound, op, ticketID)
	}
	if t.UserID != userID {
		s.mu.Unlock()
		return Ticket{}, newError(KindNotAuthorized, op, "")
	}
	if t.IsOpen {
		s.mu.Unlock()
		return Ticket{}, newError(KindAlreadyOpen, op, t.ChannelID)
	}
	if t.Rating != 0 {
		s.mu.Unlock()
		return Ticket{}, newError(KindInvalidInput, op, "already rated")
	}
	t.Rating = rating
	snap := t.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.sched.Cancel(surveyKey(ticketID))
	s.commit(ctx, seq, op, Change{Tickets: []Ticket{snap}})
	if s.stats != nil {
		s.stats.RecordSatisfaction(ctx, snap, rating)
	}
	s.publish(ctx, events.TicketRated, snap, userID, map[string]string{"rating": strconv.Itoa(rating)})
	return snap, nil
}
