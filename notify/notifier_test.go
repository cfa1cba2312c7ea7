package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"support-bot/lang"
	"support-bot/notify"
	"support-bot/priority"
	"support-bot/ticket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	to  string
	msg notify.Message
}

type fakeMessenger struct {
	mu       sync.Mutex
	channel  []sent
	direct   []sent
	managers []string
	dmErr    error
}

func (f *fakeMessenger) SendChannel(_ context.Context, id string, m notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = append(f.channel, sent{id, m})
	return nil
}

func (f *fakeMessenger) SendDirect(_ context.Context, id string, m notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.direct = append(f.direct, sent{id, m})
	return nil
}

func (f *fakeMessenger) MembersWithRoles(context.Context, string, []string) ([]string, error) {
	return f.managers, nil
}

const texts = `
en:
  notify:
    escalated:
      title: "Escalated"
      body: "{id} waited {waited} at {priority}"
      dm: "{id} needs you in {channel}"
    claimed:
      title: "Claimed"
      body: "{id} claimed by {staff}"
    survey:
      title: "Rate us"
      body: "How was {id}?"
`

func newNotifier(t *testing.T, m *fakeMessenger, cfg notify.Config) *notify.Notifier {
	t.Helper()
	c := lang.New("en", nil)
	require.NoError(t, c.LoadBytes([]byte(texts)))
	return notify.New(m, c, cfg, nil)
}

func escalatedTicket() ticket.Ticket {
	created := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	at := created.Add(15 * time.Minute)
	return ticket.Ticket{
		ID: "T-0007", ChannelID: "c7", GuildID: "g", UserID: "u7",
		Category: "soporte", Priority: priority.Critical,
		CreatedAt: created, Escalated: true, EscalatedAt: &at,
	}
}

func Test_Notifier_Escalation_Broadcasts_And_Messages_Managers(t *testing.T) {
	t.Parallel()

	m := &fakeMessenger{managers: []string{"m1", "m2"}}
	n := newNotifier(t, m, notify.Config{ManagerRoles: []string{"r1"}, LogChannel: "logs"})

	n.TicketEscalated(context.Background(), escalatedTicket())

	require.Len(t, m.channel, 2)
	assert.Equal(t, "c7", m.channel[0].to)
	assert.Equal(t, "logs", m.channel[1].to)
	assert.Equal(t, "T-0007 waited 15m at critical", m.channel[0].msg.Body)
	assert.Equal(t, []string{"<@&r1>"}, m.channel[0].msg.Mentions)

	require.Len(t, m.direct, 2)
	assert.Equal(t, "m1", m.direct[0].to)
	assert.Equal(t, "T-0007 needs you in <#c7>", m.direct[0].msg.Body)
}

func Test_Notifier_Swallows_Delivery_Failures(t *testing.T) {
	t.Parallel()

	m := &fakeMessenger{dmErr: errors.New("dms closed")}
	n := newNotifier(t, m, notify.Config{})

	tk := escalatedTicket()
	tk.ClaimedBy = "s1"
	assert.NotPanics(t, func() { n.TicketClaimed(context.Background(), tk) })
	assert.Empty(t, m.direct)
}

func Test_Notifier_Survey_Offers_Five_Ratings(t *testing.T) {
	t.Parallel()

	m := &fakeMessenger{}
	n := newNotifier(t, m, notify.Config{})

	n.Survey(context.Background(), escalatedTicket())

	require.Len(t, m.direct, 1)
	buttons := m.direct[0].msg.Buttons
	require.Len(t, buttons, 5)
	assert.Equal(t, "survey_T-0007_1", buttons[0].ID)
	assert.Equal(t, "⭐⭐⭐⭐⭐", buttons[4].Label)
}

func Test_ParseSurveyButton(t *testing.T) {
	t.Parallel()

	id, rating, ok := notify.ParseSurveyButton(notify.SurveyButtonID("T-0042", 4))
	require.True(t, ok)
	assert.Equal(t, "T-0042", id)
	assert.Equal(t, 4, rating)

	for _, bad := range []string{"claim_ticket", "survey_", "survey_T-1_x", "survey__3"} {
		_, _, ok := notify.ParseSurveyButton(bad)
		assert.False(t, ok, bad)
	}
}
