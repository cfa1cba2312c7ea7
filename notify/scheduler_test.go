package notify_test

import (
	"testing"
	"time"

	"support-bot/clock"
	"support-bot/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

func Test_Scheduler_Fires_Once_At_Due_Time(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	calls := 0
	s.Schedule("escalate:T-1", start.Add(15*time.Minute), func() { calls++ })

	c.Advance(14 * time.Minute)
	assert.Zero(t, calls)

	c.Advance(time.Minute)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Pending())

	c.Advance(time.Hour)
	assert.Equal(t, 1, calls)
}

func Test_Scheduler_Cancel_Is_Idempotent(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	fired := false
	s.Schedule("k", start.Add(time.Minute), func() { fired = true })

	s.Cancel("k")
	s.Cancel("k")
	s.Cancel("never-scheduled")
	c.Advance(time.Hour)

	assert.False(t, fired)
}

func Test_Scheduler_Reschedule_Replaces_Previous_Timer(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	var got []string
	s.Schedule("k", start.Add(time.Minute), func() { got = append(got, "first") })
	s.Schedule("k", start.Add(2*time.Minute), func() { got = append(got, "second") })

	due, ok := s.Due("k")
	require.True(t, ok)
	assert.Equal(t, start.Add(2*time.Minute), due)

	c.Advance(5 * time.Minute)
	assert.Equal(t, []string{"second"}, got)
}

func Test_Scheduler_Past_Due_Fires_On_Next_Tick(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	fired := false
	s.Schedule("late", start.Add(-time.Hour), func() { fired = true })

	c.Advance(0)
	assert.True(t, fired)
}

func Test_Scheduler_Survives_Panicking_Task(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	after := false
	s.Schedule("bad", start.Add(time.Second), func() { panic("boom") })
	s.Schedule("good", start.Add(2*time.Second), func() { after = true })

	assert.NotPanics(t, func() { c.Advance(time.Minute) })
	assert.True(t, after)
}

func Test_Scheduler_Stop_Drops_Pending_And_New_Work(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	fired := 0
	s.Schedule("a", start.Add(time.Minute), func() { fired++ })
	s.Stop()
	s.Schedule("b", start.Add(time.Minute), func() { fired++ })

	c.Advance(time.Hour)
	assert.Zero(t, fired)
	assert.Empty(t, s.Pending())
}

func Test_Scheduler_CancelTicket_Drops_Only_That_Ticket(t *testing.T) {
	t.Parallel()

	c := clock.NewFake(start)
	s := notify.NewScheduler(c, nil)
	noop := func() {}
	s.Schedule("escalate:T-0001", start.Add(time.Minute), noop)
	s.Schedule("remind:T-0001", start.Add(time.Hour), noop)
	s.Schedule("remind:T-00010", start.Add(time.Hour), noop)
	s.Schedule("escalate:T-0002", start.Add(time.Minute), noop)

	assert.Equal(t, 2, s.CancelTicket("T-0001"))
	assert.Equal(t, []string{"escalate:T-0002", "remind:T-00010"}, s.Pending())
}
