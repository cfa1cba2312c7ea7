package ticket

import (
	"context"
	"time"
)

// Repository persists ticket records and guard state. Commit applies a whole
// Change atomically.
type Repository interface {
	Load(ctx context.Context) ([]Ticket, State, error)
	Get(ctx context.Context, id string) (Ticket, bool, error)
	List(ctx context.Context) ([]Ticket, error)
	Upsert(ctx context.Context, t Ticket) error
	Commit(ctx context.Context, c Change) error
}

type Change struct {
	Tickets []Ticket
	Deleted []string
	State   *State
}

type ChannelSpec struct {
	GuildID  string
	Category string
	Name     string
	OwnerID  string
	Topic    string
}

// Platform is the subset of the chat platform the lifecycle drives directly.
type Platform interface {
	CreateChannel(ctx context.Context, spec ChannelSpec) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
	AddMember(ctx context.Context, channelID, userID string) error
	RemoveMember(ctx context.Context, channelID, userID string) error
}

type Recorder interface {
	RecordCreated(ctx context.Context, t Ticket)
	RecordClaimed(ctx context.Context, t Ticket)
	RecordClosed(ctx context.Context, t Ticket)
	RecordReopened(ctx context.Context, t Ticket)
	RecordSatisfaction(ctx context.Context, t Ticket, rating int)
}

type Notifier interface {
	TicketClaimed(ctx context.Context, t Ticket)
	TicketClosed(ctx context.Context, t Ticket)
	TicketReopened(ctx context.Context, t Ticket)
	TicketEscalated(ctx context.Context, t Ticket)
	Reminder(ctx context.Context, t Ticket)
	Survey(ctx context.Context, t Ticket)
}

// Scheduler runs fn at a point in time. Scheduling an existing key replaces
// it and Cancel of an unknown or already fired key is a no-op.
type Scheduler interface {
	Schedule(key string, at time.Time, fn func())
	Cancel(key string)
}

type Transcriber interface {
	Generate(ctx context.Context, t Ticket) error
}
