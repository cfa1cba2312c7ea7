// Package transcript archives a ticket channel when it closes: the full
// message history as text and JSON, plus a heuristic summary of the
// conversation.
package transcript

import (
	"context"
	"slices"
	"time"
)

const pageSize = 100

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Message struct {
	ID          string         `json:"id"`
	AuthorID    string         `json:"author_id"`
	AuthorName  string         `json:"author_name"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Embeds      int            `json:"embeds,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
}

// History reads a channel's messages newest first. before is the id of the
// oldest message already seen, empty for the first page.
type History interface {
	Messages(ctx context.Context, channelID, before string, limit int) ([]Message, error)
}

// FetchAll pages backwards through the channel until the history is
// exhausted and returns the messages oldest first.
func FetchAll(ctx context.Context, h History, channelID string) ([]Message, error) {
	var all []Message
	before := ""
	for {
		batch, err := h.Messages(ctx, channelID, before, pageSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			break
		}
		before = batch[len(batch)-1].ID
	}
	slices.Reverse(all)
	return all, nil
}
