package ticket

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
)

// SetBlacklisted adds or removes a user from the creation blacklist.
func (s *Service) SetBlacklisted(ctx context.Context, actor Actor, userID string, blocked bool) error {
	const op = "blacklist"
	if !actor.Admin {
		return newError(KindNotAuthorized, op, "")
	}
	if !ValidUserID(userID) {
		return newError(KindInvalidInput, op, userID)
	}

	s.mu.Lock()
	if blocked {
		s.state.Blacklist[userID] = true
	} else {
		delete(s.state.Blacklist, userID)
	}
	st := s.state.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{State: &st})
	s.log.Info("blacklist updated", zap.String("user_id", userID), zap.Bool("blocked", blocked), zap.String("admin_id", actor.ID))
	return nil
}

func (s *Service) IsBlacklisted(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Blacklist[userID]
}

// Blacklist returns the blocked user ids in sorted order.
func (s *Service) Blacklist() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.state.Blacklist))
	for id, blocked := range s.state.Blacklist {
		if blocked {
			out = append(out, id)
		}
	}
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// SetMaintenance suspends or resumes ticket creation.
func (s *Service) SetMaintenance(ctx context.Context, actor Actor, on bool, reason string) error {
	const op = "maintenance"
	if !actor.Admin {
		return newError(KindNotAuthorized, op, "")
	}
	now := s.clock.Now()

	s.mu.Lock()
	s.state.Maintenance = on
	if on {
		s.state.MaintenanceReason = trimmed(reason)
		s.state.MaintenanceSince = timePtr(now)
	} else {
		s.state.MaintenanceReason = ""
		s.state.MaintenanceSince = nil
	}
	st := s.state.Clone()
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.commit(ctx, seq, op, Change{State: &st})
	s.log.Info("maintenance mode", zap.Bool("enabled", on), zap.String("admin_id", actor.ID))
	return nil
}

type MaintenanceStatus struct {
	Enabled bool
	Reason  string
	Since   *time.Time
}

func (s *Service) Maintenance() MaintenanceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MaintenanceStatus{
		Enabled: s.state.Maintenance,
		Reason:  s.state.MaintenanceReason,
		Since:   cloneTime(s.state.MaintenanceSince),
	}
}

// Cleanup removes closed tickets that were closed more than olderThan ago
// and returns the removed records.
func (s *Service) Cleanup(ctx context.Context, actor Actor, olderThan time.Duration) ([]Ticket, error) {
	const op = "cleanup"
	if !actor.Admin {
		return nil, newError(KindNotAuthorized, op, "")
	}
	if olderThan <= 0 {
		return nil, newError(KindInvalidInput, op, olderThan.String())
	}
	cutoff := s.clock.Now().Add(-olderThan)

	s.mu.Lock()
	var removed []Ticket
	for id, t := range s.tickets {
		if t.IsOpen || t.ClosedAt == nil || !t.ClosedAt.Before(cutoff) {
			continue
		}
		removed = append(removed, t.Clone())
		delete(s.tickets, id)
	}
	for ch, id := range s.byChannel {
		if _, ok := s.tickets[id]; !ok {
			delete(s.byChannel, ch)
		}
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return nil, nil
	}
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	ids := make([]string, len(removed))
	for i, t := range removed {
		ids[i] = t.ID
		s.sched.Cancel(surveyKey(t.ID))
	}
	s.commit(ctx, seq, op, Change{Deleted: ids})
	s.log.Info("closed tickets cleaned up", zap.Int("removed", len(removed)), zap.Duration("older_than", olderThan))
	return removed, nil
}

type Counts struct {
	Total     int `json:"total"`
	Open      int `json:"open"`
	Closed    int `json:"closed"`
	Unclaimed int `json:"unclaimed"`
	Escalated int `json:"escalated"`
}

// Counts summarizes the live table.
func (s *Service) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, t := range s.tickets {
		c.Total++
		if !t.IsOpen {
			c.Closed++
			continue
		}
		c.Open++
		if !t.Claimed() {
			c.Unclaimed++
		}
		if t.Escalated {
			c.Escalated++
		}
	}
	return c
}
