package transcript

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"support-bot/ticket"
)

// Span is a duration in both machine and display form.
type Span struct {
	Millis    int64  `json:"ms"`
	Formatted string `json:"formatted"`
}

func newSpan(d time.Duration) Span {
	return Span{Millis: d.Milliseconds(), Formatted: FormatDuration(d)}
}

type Statistics struct {
	TotalMessages      int `json:"total_messages"`
	TotalAttachments   int `json:"total_attachments"`
	TotalReactions     int `json:"total_reactions"`
	UniqueParticipants int `json:"unique_participants"`
}

type AttachmentRecord struct {
	Attachment
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Metadata struct {
	TicketID     string             `json:"ticket_id"`
	ChannelID    string             `json:"channel_id"`
	Category     string             `json:"category"`
	Priority     string             `json:"priority"`
	Creator      string             `json:"creator"`
	ClaimedBy    string             `json:"claimed_by,omitempty"`
	ClosedBy     string             `json:"closed_by,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ClaimedAt    *time.Time         `json:"claimed_at,omitempty"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty"`
	Duration     Span               `json:"duration"`
	ResponseTime *Span              `json:"response_time"`
	Participants []string           `json:"participants"`
	Statistics   Statistics         `json:"statistics"`
	Attachments  []AttachmentRecord `json:"attachments"`
	Reactions    map[string]int     `json:"reactions"`
	Resolution   string             `json:"resolution"`
}

// BuildMetadata derives participants, attachments, reaction totals and the
// first staff response from the conversation. isStaff decides which
// authors count as staff; the ticket owner never does.
func BuildMetadata(t ticket.Ticket, msgs []Message, isStaff func(userID string) bool, now time.Time) Metadata {
	md := Metadata{
		TicketID:     t.ID,
		ChannelID:    t.ChannelID,
		Category:     t.Category,
		Priority:     string(t.Priority),
		Creator:      t.UserID,
		ClaimedBy:    t.ClaimedBy,
		ClosedBy:     t.ClosedBy,
		CreatedAt:    t.CreatedAt,
		ClaimedAt:    t.ClaimedAt,
		ClosedAt:     t.ClosedAt,
		Participants: []string{},
		Attachments:  []AttachmentRecord{},
		Reactions:    map[string]int{},
		Resolution:   t.CloseReason,
	}
	if md.Priority == "" {
		md.Priority = "medium"
	}
	if md.Resolution == "" {
		md.Resolution = "Not specified"
	}

	seen := map[string]bool{}
	var firstStaff *time.Time
	for _, m := range msgs {
		if !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			md.Participants = append(md.Participants, m.AuthorID)
		}
		for _, a := range m.Attachments {
			md.Attachments = append(md.Attachments, AttachmentRecord{Attachment: a, UploadedBy: m.AuthorID, UploadedAt: m.Timestamp})
		}
		for emoji, n := range m.Reactions {
			md.Reactions[emoji] += n
			md.Statistics.TotalReactions += n
		}
		if firstStaff == nil && m.AuthorID != t.UserID && isStaff != nil && isStaff(m.AuthorID) {
			ts := m.Timestamp
			firstStaff = &ts
		}
	}

	end := now
	if t.ClosedAt != nil {
		end = *t.ClosedAt
	}
	md.Duration = newSpan(end.Sub(t.CreatedAt))
	if firstStaff != nil {
		if d := firstStaff.Sub(t.CreatedAt); d > 0 {
			s := newSpan(d)
			md.ResponseTime = &s
		}
	}
	md.Statistics.TotalMessages = len(msgs)
	md.Statistics.TotalAttachments = len(md.Attachments)
	md.Statistics.UniqueParticipants = len(md.Participants)
	return md
}

const stampLayout = "2006-01-02 15:04:05"

// TextTranscript renders the conversation as plain text.
func TextTranscript(md Metadata, msgs []Message, loc *time.Location, generatedAt time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	stamp := func(t time.Time) string { return t.In(loc).Format(stampLayout) }

	var b strings.Builder
	fmt.Fprintf(&b, "=== TICKET TRANSCRIPT %s ===\n\n", md.TicketID)
	b.WriteString("📋 GENERAL INFORMATION:\n")
	fmt.Fprintf(&b, "- Ticket ID: %s\n", md.TicketID)
	fmt.Fprintf(&b, "- Category: %s\n", md.Category)
	fmt.Fprintf(&b, "- Priority: %s\n", md.Priority)
	fmt.Fprintf(&b, "- Created: %s\n", stamp(md.CreatedAt))
	closed := "Still open"
	if md.ClosedAt != nil {
		closed = stamp(*md.ClosedAt)
	}
	fmt.Fprintf(&b, "- Closed: %s\n", closed)
	fmt.Fprintf(&b, "- Duration: %s\n", md.Duration.Formatted)
	response := "N/A"
	if md.ResponseTime != nil {
		response = md.ResponseTime.Formatted
	}
	fmt.Fprintf(&b, "- Response time: %s\n", response)
	fmt.Fprintf(&b, "- Total messages: %d\n", md.Statistics.TotalMessages)
	fmt.Fprintf(&b, "- Participants: %d\n\n", md.Statistics.UniqueParticipants)

	b.WriteString("💬 CONVERSATION:\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for _, m := range msgs {
		author := m.AuthorName
		if author == "" {
			author = m.AuthorID
		}
		fmt.Fprintf(&b, "[%s] %s:\n", stamp(m.Timestamp), author)
		if m.Content != "" {
			b.WriteString(m.Content + "\n")
		}
		if len(m.Attachments) > 0 {
			names := make([]string, len(m.Attachments))
			for i, a := range m.Attachments {
				names[i] = a.Name
			}
			fmt.Fprintf(&b, "📎 Attachments: %s\n", strings.Join(names, ", "))
		}
		if m.Embeds > 0 {
			fmt.Fprintf(&b, "📋 Embeds: %d\n", m.Embeds)
		}
		b.WriteString("\n")
	}

	if len(md.Attachments) > 0 {
		b.WriteString("\n📁 ATTACHMENTS:\n")
		b.WriteString(strings.Repeat("=", 30) + "\n")
		for i, a := range md.Attachments {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, a.Name, FormatFileSize(a.Size))
			fmt.Fprintf(&b, "   URL: %s\n", a.URL)
			fmt.Fprintf(&b, "   Uploaded by: %s at %s\n\n", a.UploadedBy, stamp(a.UploadedAt))
		}
	}

	fmt.Fprintf(&b, "\n✅ RESOLUTION: %s\n", md.Resolution)
	b.WriteString("\n--- End of transcript ---\n")
	fmt.Fprintf(&b, "Generated %s", stamp(generatedAt))
	return b.String()
}

// FormatDuration renders d as "1d 2h 3m", "2h 3m", "3m 4s" or "4s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours%24, minutes%60)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count in binary units with at most two
// decimals, e.g. "1.5 KB".
func FormatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	i = min(i, len(sizeUnits)-1)
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
