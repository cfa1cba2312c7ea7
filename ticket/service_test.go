package ticket_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"support-bot/priority"
	"support-bot/ticket"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Service_Create_Assigns_Id_Priority_And_Escalation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "this is DOWN and CRITICAL!!!")

	assert.Equal(t, "T-0001", tk.ID)
	assert.Equal(t, "chan-1", tk.ChannelID)
	assert.Equal(t, priority.Critical, tk.Priority)
	assert.True(t, tk.IsOpen)
	require.NotNil(t, tk.EscalationDueAt)
	assert.Equal(t, day1.Add(15*time.Minute), *tk.EscalationDueAt)
	assert.Equal(t, "ticket-alice-smith", h.platform.created[0].Name)
	assert.Equal(t, 1, h.rec.count(&h.rec.created))

	second := h.create(t, "100000000000000002", "pregunta", "just a question")
	assert.Equal(t, "T-0002", second.ID)
	assert.Equal(t, priority.Low, second.Priority)
}

func Test_Service_Create_Billing_Scenario_Is_High(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "billing", "my payment failed!!!")

	assert.Equal(t, "billing", tk.Category)
	assert.Equal(t, priority.High, tk.Priority)
}

func Test_Service_Create_Rejects_Guard_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	blocked := "100000000000000009"
	require.NoError(t, h.svc.SetBlacklisted(ctx, admin, blocked, true))

	req := func(userID, category string) ticket.CreateRequest {
		return ticket.CreateRequest{GuildID: "guild", UserID: userID, Username: "x", Category: category, Description: "help"}
	}

	_, err := h.svc.Create(ctx, req(blocked, "soporte"))
	assert.ErrorIs(t, err, ticket.ErrBlocked)

	_, err = h.svc.Create(ctx, req(user.ID, "nonsense"))
	assert.ErrorIs(t, err, ticket.ErrInvalidCategory)

	require.NoError(t, h.svc.SetMaintenance(ctx, admin, true, "upgrading"))
	_, err = h.svc.Create(ctx, req(user.ID, "soporte"))
	assert.ErrorIs(t, err, ticket.ErrMaintenance)
	assert.True(t, ticket.IsGuardRejected(err))

	require.NoError(t, h.svc.SetMaintenance(ctx, admin, false, ""))
	_, err = h.svc.Create(ctx, req(user.ID, "soporte"))
	require.NoError(t, err)

	_, err = h.svc.Create(ctx, req(user.ID, "soporte"))
	assert.ErrorIs(t, err, ticket.ErrDuplicate)

	assert.Empty(t, h.platform.deletedChannels(), "guards run before any channel is created")
	assert.Len(t, h.platform.created, 1)
}

func Test_Service_Create_Allows_One_Open_Ticket_Under_Concurrency(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *ticket.Config) { c.MaxPerDay = 50 })
	h.platform.delay = 5 * time.Millisecond

	const callers = 12
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Create(context.Background(), ticket.CreateRequest{
				GuildID: "guild", UserID: user.ID, Username: "alice", Category: "soporte", Description: "help me",
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ticket.ErrDuplicate)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, h.svc.List(ticket.Filter{Status: ticket.StatusOpen, UserID: user.ID}), 1)
}

func Test_Service_Create_Quota_Resets_On_Next_Day(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, func(c *ticket.Config) { c.MaxPerDay = 2 })

	for range 2 {
		tk := h.create(t, user.ID, "soporte", "help")
		_, err := h.svc.Close(ctx, tk.ChannelID, staff, "done")
		require.NoError(t, err)
	}

	_, err := h.svc.Create(ctx, ticket.CreateRequest{GuildID: "guild", UserID: user.ID, Category: "soporte", Description: "help"})
	require.ErrorIs(t, err, ticket.ErrQuotaExceeded)

	h.clock.Set(time.Date(2024, 4, 16, 0, 0, 1, 0, time.UTC))
	tk := h.create(t, user.ID, "soporte", "help")
	assert.True(t, tk.IsOpen)
}

func Test_Service_Claim_Cancels_Escalation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "server crash")

	claimed, err := h.svc.Claim(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, claimed.ClaimedBy)
	assert.Nil(t, claimed.EscalationDueAt)

	h.clock.Advance(2 * time.Hour)

	got, ok := h.svc.Get(tk.ID)
	require.True(t, ok)
	assert.False(t, got.Escalated)
	assert.Zero(t, h.rec.count(&h.rec.escalated))
}

func Test_Service_Unclaimed_Ticket_Escalates_Once(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "server crash")

	h.clock.Advance(14 * time.Minute)
	got, _ := h.svc.Get(tk.ID)
	assert.False(t, got.Escalated)

	h.clock.Advance(time.Minute)
	got, _ = h.svc.Get(tk.ID)
	assert.True(t, got.Escalated)
	require.NotNil(t, got.EscalatedAt)
	assert.Equal(t, day1.Add(15*time.Minute), *got.EscalatedAt)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.svc.SweepEscalations(context.Background()))
	assert.Equal(t, 1, h.rec.count(&h.rec.escalated))

	stored, ok, err := h.repo.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Escalated)
}

func Test_Service_Claim_Rejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")

	_, err := h.svc.Claim(ctx, tk.ChannelID, user)
	assert.ErrorIs(t, err, ticket.ErrNotStaff)

	_, err = h.svc.Claim(ctx, "missing", staff)
	assert.ErrorIs(t, err, ticket.ErrNotFound)

	_, err = h.svc.Claim(ctx, tk.ChannelID, staff)
	require.NoError(t, err)

	_, err = h.svc.Claim(ctx, tk.ChannelID, admin)
	assert.ErrorIs(t, err, ticket.ErrAlreadyClaimed)
	assert.Equal(t, 1, h.rec.count(&h.rec.claimed))
}

func Test_Service_Close_Twice_Fails_Without_Extra_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")

	closed, err := h.svc.Close(ctx, tk.ChannelID, staff, "solved")
	require.NoError(t, err)
	assert.False(t, closed.IsOpen)
	assert.Equal(t, "solved", closed.CloseReason)

	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "again")
	assert.ErrorIs(t, err, ticket.ErrAlreadyClosed)
	assert.Equal(t, ticket.KindAlreadyClosed, ticket.KindOf(err))

	assert.Equal(t, 1, h.rec.count(&h.rec.closed))
	assert.Equal(t, 1, h.trans.calls)
}

func Test_Service_Close_Requires_Staff_And_Reason(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")

	_, err := h.svc.Close(ctx, tk.ChannelID, user, "bye")
	assert.ErrorIs(t, err, ticket.ErrNotStaff)

	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "  ")
	assert.ErrorIs(t, err, ticket.ErrInvalidInput)

	_, err = h.svc.Close(ctx, "nope", staff, "bye")
	assert.ErrorIs(t, err, ticket.ErrNotFound)
}

func Test_Service_Close_Deletes_Channel_After_Delay_Even_When_Transcript_Fails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	h.trans.err = errBoom
	tk := h.create(t, user.ID, "soporte", "help")

	_, err := h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)
	assert.Empty(t, h.platform.deletedChannels())

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, []string{tk.ChannelID}, h.platform.deletedChannels())

	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, h.rec.count(&h.rec.surveys))

	h.clock.Advance(48 * time.Hour)
	assert.Zero(t, h.rec.count(&h.rec.reminders), "closing cancels the reminder")
	assert.Zero(t, h.rec.count(&h.rec.escalated), "closing cancels the escalation")
}

func Test_Service_Reminder_Fires_For_Long_Open_Ticket(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "pregunta", "question")
	_, err := h.svc.Claim(context.Background(), tk.ChannelID, staff)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	assert.Equal(t, 1, h.rec.count(&h.rec.reminders))
}

func Test_Service_Reopen_Creates_New_Incarnation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")
	_, err := h.svc.AddMember(ctx, tk.ChannelID, staff, "300000000000000003")
	require.NoError(t, err)
	_, err = h.svc.Claim(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)

	_, err = h.svc.Reopen(ctx, tk.ChannelID, user)
	assert.ErrorIs(t, err, ticket.ErrNotStaff)

	h.clock.Advance(time.Minute)
	re, err := h.svc.Reopen(ctx, tk.ChannelID, staff)
	require.NoError(t, err)

	assert.Equal(t, tk.ID, re.ID)
	assert.Equal(t, "chan-2", re.ChannelID)
	assert.Equal(t, []string{tk.ChannelID}, re.PreviousChannels)
	assert.Equal(t, 2, re.Incarnation)
	assert.True(t, re.IsOpen)
	assert.Empty(t, re.ClaimedBy)
	assert.Nil(t, re.ClosedAt)
	assert.Empty(t, re.CloseReason)
	assert.Equal(t, staff.ID, re.ReopenedBy)
	assert.Equal(t, []string{"300000000000000003"}, h.platform.added["chan-2"])

	byOld, ok := h.svc.GetByChannel(tk.ChannelID)
	require.True(t, ok)
	assert.Equal(t, re.ChannelID, byOld.ChannelID)

	_, err = h.svc.Reopen(ctx, re.ChannelID, staff)
	assert.ErrorIs(t, err, ticket.ErrAlreadyOpen)

	_, err = h.svc.Claim(ctx, tk.ChannelID, staff)
	assert.ErrorIs(t, err, ticket.ErrAlreadyClosed, "old channel belongs to the previous incarnation")

	claimed, err := h.svc.Claim(ctx, re.ChannelID, admin)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, claimed.ClaimedBy)
	assert.Equal(t, 1, h.rec.count(&h.rec.reopened))
}

func Test_Service_Reopen_Rejects_When_Owner_Has_Another_Open_Ticket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	first := h.create(t, user.ID, "soporte", "help")
	_, err := h.svc.Close(ctx, first.ChannelID, staff, "done")
	require.NoError(t, err)
	h.create(t, user.ID, "reporte", "another problem")

	_, err = h.svc.Reopen(ctx, first.ChannelID, staff)
	assert.ErrorIs(t, err, ticket.ErrDuplicate)
	assert.Len(t, h.svc.List(ticket.Filter{Status: ticket.StatusOpen, UserID: user.ID}), 1)
}

func Test_Service_ChangePriority_Records_History_And_Rearms_Escalation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "pregunta", "just a question")
	require.Equal(t, priority.Low, tk.Priority)

	h.clock.Advance(10 * time.Minute)
	got, err := h.svc.ChangePriority(ctx, tk.ChannelID, staff, priority.Critical, "customer is a VIP")
	require.NoError(t, err)

	want := []ticket.PriorityChange{{
		From: priority.Low, To: priority.Critical, By: staff.ID,
		At: day1.Add(10 * time.Minute), Reason: "customer is a VIP",
	}}
	if diff := cmp.Diff(want, got.PriorityHistory); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	h.clock.Advance(5 * time.Minute)
	got, _ = h.svc.Get(tk.ID)
	assert.True(t, got.Escalated, "critical escalates 15 minutes after creation")

	_, err = h.svc.ChangePriority(ctx, tk.ChannelID, user, priority.High, "")
	assert.ErrorIs(t, err, ticket.ErrNotStaff)
	_, err = h.svc.ChangePriority(ctx, tk.ChannelID, staff, "bogus", "")
	assert.ErrorIs(t, err, ticket.ErrInvalidInput)
}

func Test_Service_Persists_And_Reloads_Identical_Records(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemRepo()
	h := newHarnessWithRepo(t, repo, nil)
	a := h.create(t, user.ID, "soporte", "help")
	b := h.create(t, "100000000000000002", "billing", "refund!!!")
	_, err := h.svc.Claim(ctx, a.ChannelID, staff)
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, b.ChannelID, staff, "refunded")
	require.NoError(t, err)

	before := h.svc.List(ticket.Filter{})
	reloaded := newHarnessWithRepo(t, repo, nil)
	after := reloaded.svc.List(ticket.Filter{})

	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("reload mismatch (-before +after):\n%s", diff)
	}

	next := reloaded.create(t, "100000000000000003", "feature", "dark mode")
	assert.Equal(t, "T-0003", next.ID, "id counter survives reload")
}

func Test_Service_RestoreEscalations_Fires_Overdue_And_Rearms_Pending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemRepo()
	old := newHarnessWithRepo(t, repo, nil)
	overdue := old.create(t, user.ID, "soporte", "system down")
	pending := old.create(t, "100000000000000002", "pregunta", "question")
	old.svc.Shutdown()

	restarted := newHarnessWithRepo(t, repo, nil)
	restarted.clock.Set(day1.Add(20 * time.Minute))

	n := restarted.svc.RestoreEscalations(ctx)
	assert.Equal(t, 2, n)

	got, _ := restarted.svc.Get(overdue.ID)
	assert.True(t, got.Escalated)

	got, _ = restarted.svc.Get(pending.ID)
	assert.False(t, got.Escalated)

	restarted.clock.Advance(8 * time.Hour)
	got, _ = restarted.svc.Get(pending.ID)
	assert.True(t, got.Escalated)
	assert.Equal(t, 2, restarted.rec.count(&restarted.rec.escalated))
}

func Test_Service_Persistence_Failure_Still_Reports_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.repo.commitErr = errBoom

	tk := h.create(t, user.ID, "soporte", "help")
	assert.True(t, tk.IsOpen)

	_, ok := h.svc.OpenFor(user.ID)
	assert.True(t, ok)
}

func Test_Service_Create_Surfaces_Platform_Failure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.platform.createErr = errBoom

	_, err := h.svc.Create(context.Background(), ticket.CreateRequest{
		GuildID: "guild", UserID: user.ID, Category: "soporte", Description: "help",
	})
	assert.ErrorIs(t, err, ticket.ErrExternal)
	assert.True(t, errors.Is(err, errBoom))

	_, ok := h.svc.OpenFor(user.ID)
	assert.False(t, ok)
}

func Test_Service_RemoveMember_Keeps_Owner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")
	const guest = "300000000000000003"

	_, err := h.svc.AddMember(ctx, tk.ChannelID, user, guest)
	require.NoError(t, err)

	_, err = h.svc.RemoveMember(ctx, tk.ChannelID, staff, user.ID)
	assert.Equal(t, ticket.KindInvalidInput, ticket.KindOf(err))

	got, err := h.svc.RemoveMember(ctx, tk.ChannelID, staff, guest)
	require.NoError(t, err)
	assert.Empty(t, got.Members)
	assert.Equal(t, []string{tk.ChannelID + "/" + guest}, h.platform.removed)

	_, err = h.svc.RemoveMember(ctx, tk.ChannelID, staff, guest)
	assert.ErrorIs(t, err, ticket.ErrNotFound)
}

func Test_Service_Rate_Accepts_One_Rating_From_Owner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "help")

	_, err := h.svc.Rate(ctx, tk.ID, user.ID, 5)
	assert.ErrorIs(t, err, ticket.ErrAlreadyOpen)

	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)

	_, err = h.svc.Rate(ctx, tk.ID, "someone-else", 5)
	assert.ErrorIs(t, err, ticket.ErrNotAuthorized)
	_, err = h.svc.Rate(ctx, tk.ID, user.ID, 6)
	assert.ErrorIs(t, err, ticket.ErrInvalidInput)

	rated, err := h.svc.Rate(ctx, tk.ID, user.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, rated.Rating)

	_, err = h.svc.Rate(ctx, tk.ID, user.ID, 5)
	assert.ErrorIs(t, err, ticket.ErrInvalidInput)
	assert.Equal(t, []int{4}, h.rec.ratings)

	h.clock.Advance(time.Hour)
	assert.Zero(t, h.rec.count(&h.rec.surveys), "rated tickets are not surveyed")
}

func Test_Service_Cleanup_Removes_Old_Closed_Tickets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	old := h.create(t, user.ID, "soporte", "help")
	_, err := h.svc.Close(ctx, old.ChannelID, staff, "done")
	require.NoError(t, err)

	h.clock.Advance(40 * 24 * time.Hour)
	open := h.create(t, "100000000000000002", "soporte", "help")

	_, err = h.svc.Cleanup(ctx, staff, 30*24*time.Hour)
	assert.ErrorIs(t, err, ticket.ErrNotAuthorized)

	removed, err := h.svc.Cleanup(ctx, admin, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, old.ID, removed[0].ID)

	_, ok := h.svc.Get(old.ID)
	assert.False(t, ok)
	_, ok = h.svc.GetByChannel(old.ChannelID)
	assert.False(t, ok)
	_, ok = h.svc.Get(open.ID)
	assert.True(t, ok)

	_, stored, err := h.repo.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, stored)
}

func Test_Service_Blacklist_Requires_Admin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)

	assert.ErrorIs(t, h.svc.SetBlacklisted(ctx, staff, user.ID, true), ticket.ErrNotAuthorized)
	assert.ErrorIs(t, h.svc.SetBlacklisted(ctx, admin, "not-an-id", true), ticket.ErrInvalidInput)

	require.NoError(t, h.svc.SetBlacklisted(ctx, admin, user.ID, true))
	assert.Equal(t, []string{user.ID}, h.svc.Blacklist())

	require.NoError(t, h.svc.SetBlacklisted(ctx, admin, user.ID, false))
	assert.Empty(t, h.svc.Blacklist())
	assert.False(t, h.svc.IsBlacklisted(user.ID))
}

func Test_Service_Publishes_Lifecycle_Events(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	ch, cancel := h.bus.Subscribe(10)
	defer cancel()

	tk := h.create(t, user.ID, "soporte", "help")
	_, err := h.svc.Claim(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)

	var types []string
	for range 3 {
		e := <-ch
		assert.Equal(t, tk.ID, e.TicketID)
		types = append(types, string(e.Type))
	}
	assert.Equal(t, []string{"ticket.created", "ticket.claimed", "ticket.closed"}, types)
}

func Test_Service_Reopened_Ticket_Counts_Escalation_From_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "pregunta", "just a question")
	_, err := h.svc.Claim(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	reopenedAt := day1.Add(48 * time.Hour)
	re, err := h.svc.Reopen(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	require.NotNil(t, re.EscalationDueAt)
	assert.Equal(t, reopenedAt.Add(8*time.Hour), *re.EscalationDueAt)
	assert.Equal(t, reopenedAt, re.IncarnationStart())

	changed, err := h.svc.ChangePriority(ctx, re.ChannelID, staff, priority.High, "")
	require.NoError(t, err)
	require.NotNil(t, changed.EscalationDueAt)
	assert.Equal(t, reopenedAt.Add(time.Hour), *changed.EscalationDueAt)

	h.clock.Advance(time.Second)
	got, _ := h.svc.Get(tk.ID)
	assert.False(t, got.Escalated, "high escalates an hour after the reopen, not after creation")

	h.clock.Advance(time.Hour)
	got, _ = h.svc.Get(tk.ID)
	assert.True(t, got.Escalated)
}

func Test_Service_Reopen_Arms_Reminder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "pregunta", "question")
	_, err := h.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	assert.Zero(t, h.rec.count(&h.rec.reminders))

	re, err := h.svc.Reopen(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	_, err = h.svc.Claim(ctx, re.ChannelID, staff)
	require.NoError(t, err)

	h.clock.Advance(24*time.Hour - time.Second)
	assert.Zero(t, h.rec.count(&h.rec.reminders))
	h.clock.Advance(time.Second)
	assert.Equal(t, 1, h.rec.count(&h.rec.reminders))
}

func Test_Service_Restore_Counts_From_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newMemRepo()
	old := newHarnessWithRepo(t, repo, nil)
	tk := old.create(t, user.ID, "pregunta", "question")
	_, err := old.svc.Close(ctx, tk.ChannelID, staff, "done")
	require.NoError(t, err)
	old.clock.Advance(48 * time.Hour)
	_, err = old.svc.Reopen(ctx, tk.ChannelID, staff)
	require.NoError(t, err)
	old.svc.Shutdown()

	restarted := newHarnessWithRepo(t, repo, nil)
	restarted.clock.Set(day1.Add(49 * time.Hour))
	assert.Equal(t, 1, restarted.svc.RestoreEscalations(ctx))

	got, _ := restarted.svc.Get(tk.ID)
	assert.False(t, got.Escalated, "low escalates eight hours after the reopen")

	restarted.clock.Advance(7 * time.Hour)
	got, _ = restarted.svc.Get(tk.ID)
	assert.True(t, got.Escalated)

	restarted.clock.Advance(16*time.Hour - time.Second)
	assert.Zero(t, restarted.rec.count(&restarted.rec.reminders))
	restarted.clock.Advance(time.Second)
	assert.Equal(t, 1, restarted.rec.count(&restarted.rec.reminders), "reminder counts from the reopen too")
}

func Test_Service_Commits_Land_In_Snapshot_Order(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	tk := h.create(t, user.ID, "soporte", "server crash")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.repo.gate = func(c ticket.Change) {
		if len(c.Tickets) == 1 && c.Tickets[0].Escalated && !c.Tickets[0].Claimed() {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}

	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		h.clock.Advance(15 * time.Minute)
	}()
	<-entered

	claimed := make(chan error, 1)
	go func() {
		_, err := h.svc.Claim(ctx, tk.ChannelID, staff)
		claimed <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-advanced
	require.NoError(t, <-claimed)

	mem, ok := h.svc.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, staff.ID, mem.ClaimedBy)
	assert.True(t, mem.Escalated)

	stored, ok, err := h.repo.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(mem, stored); diff != "" {
		t.Fatalf("stored record differs from memory (-memory +stored):\n%s", diff)
	}
}

func Test_Service_Guards_Report_Blacklist_Before_Other_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	blocked := "100000000000000009"
	require.NoError(t, h.svc.SetBlacklisted(ctx, admin, blocked, true))
	h.create(t, user.ID, "soporte", "help")
	require.NoError(t, h.svc.SetMaintenance(ctx, admin, true, "upgrading"))

	assert.ErrorIs(t, h.svc.CanCreate(blocked, "nonsense"), ticket.ErrBlocked)
	assert.ErrorIs(t, h.svc.CanCreate(user.ID, "nonsense"), ticket.ErrDuplicate)
	assert.ErrorIs(t, h.svc.CanCreate("100000000000000002", "nonsense"), ticket.ErrMaintenance)

	require.NoError(t, h.svc.SetMaintenance(ctx, admin, false, ""))
	assert.ErrorIs(t, h.svc.CanCreate("100000000000000002", "nonsense"), ticket.ErrInvalidCategory)
}
