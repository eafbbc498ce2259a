package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/continuity/internal/domain/entities"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubChecker struct {
	mu    sync.Mutex
	calls []CheckRequest
	err   error
	block bool
}

func (s *stubChecker) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	block, err := s.block, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return CheckResult{}, ctx.Err()
	}
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{FactsChecked: len(req.Text)}, nil
}

func (s *stubChecker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestScheduler(checker Checker) (*CheckScheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewCheckScheduler("book", checker, SchedulerConfig{
		Debounce: 5 * time.Millisecond,
		Throttle: 3 * time.Second,
		Timeout:  time.Second,
	}, nil, nil)
	s.now = clock.Now
	return s, clock
}

func waitForState(t *testing.T, s *CheckScheduler, sessionID string, want SessionState) SessionStatus {
	t.Helper()
	var st SessionStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = s.Status(sessionID)
		return err == nil && st.State == want
	}, 2*time.Second, time.Millisecond, "session never reached %s", want)
	return st
}

func edit(text string) CheckRequest {
	return CheckRequest{ChapterID: "ch1", ChapterIndex: 1, Text: text}
}

func TestScheduler_ThrottleSkipsSecondCheck(t *testing.T) {
	checker := &stubChecker{}
	s, clock := newTestScheduler(checker)
	defer s.Close()

	require.NoError(t, s.Submit("sess", edit("first edit")))
	waitForState(t, s, "sess", SessionDone)

	clock.Advance(time.Second)
	require.NoError(t, s.Submit("sess", edit("second edit")))
	st := waitForState(t, s, "sess", SessionSkipped)

	assert.Equal(t, 1, checker.Calls())
	require.NotNil(t, st.Result, "last good result is kept")
	assert.Equal(t, len("first edit"), st.Result.FactsChecked)

	clock.Advance(3 * time.Second)
	require.NoError(t, s.Submit("sess", edit("third edit")))
	waitForState(t, s, "sess", SessionDone)
	assert.Equal(t, 2, checker.Calls())
}

func TestScheduler_DebounceCoalescesEdits(t *testing.T) {
	checker := &stubChecker{}
	s := NewCheckScheduler("book", checker, SchedulerConfig{Debounce: 50 * time.Millisecond}, nil, nil)
	defer s.Close()

	for _, text := range []string{"a", "ab", "abc"} {
		require.NoError(t, s.Submit("sess", edit(text)))
	}
	waitForState(t, s, "sess", SessionDone)

	require.Equal(t, 1, checker.Calls())
	assert.Equal(t, "abc", checker.calls[0].Text)
}

func TestScheduler_NewEditCancelsRunningCheck(t *testing.T) {
	checker := &stubChecker{block: true}
	s, clock := newTestScheduler(checker)
	defer s.Close()

	require.NoError(t, s.Submit("sess", edit("first")))
	waitForState(t, s, "sess", SessionRunning)

	checker.mu.Lock()
	checker.block = false
	checker.mu.Unlock()
	clock.Advance(4 * time.Second)
	require.NoError(t, s.Submit("sess", edit("second")))

	st := waitForState(t, s, "sess", SessionDone)
	assert.Equal(t, len("second"), st.Result.FactsChecked)
	assert.Equal(t, 2, checker.Calls())
}

func TestScheduler_FailureKeepsLastGoodResult(t *testing.T) {
	checker := &stubChecker{}
	s, clock := newTestScheduler(checker)
	defer s.Close()

	require.NoError(t, s.Submit("sess", edit("good")))
	waitForState(t, s, "sess", SessionDone)

	checker.mu.Lock()
	checker.err = errors.New("capability unavailable")
	checker.mu.Unlock()
	clock.Advance(4 * time.Second)
	require.NoError(t, s.Submit("sess", edit("bad")))

	st := waitForState(t, s, "sess", SessionFailed)
	assert.Contains(t, st.Error, "capability unavailable")
	require.NotNil(t, st.Result)
	assert.Equal(t, len("good"), st.Result.FactsChecked)
}

func TestScheduler_TimeoutFailsCheck(t *testing.T) {
	checker := &stubChecker{block: true}
	s := NewCheckScheduler("book", checker, SchedulerConfig{Debounce: time.Millisecond, Timeout: 10 * time.Millisecond}, nil, nil)
	defer s.Close()

	require.NoError(t, s.Submit("sess", edit("slow")))

	st := waitForState(t, s, "sess", SessionFailed)
	assert.Contains(t, st.Error, context.DeadlineExceeded.Error())
}

func TestScheduler_SessionsAreIndependent(t *testing.T) {
	checker := &stubChecker{}
	s, _ := newTestScheduler(checker)
	defer s.Close()

	require.NoError(t, s.Submit("a", edit("one")))
	require.NoError(t, s.Submit("b", edit("two")))
	waitForState(t, s, "a", SessionDone)
	waitForState(t, s, "b", SessionDone)

	assert.Equal(t, 2, checker.Calls())
	assert.Equal(t, []string{"a", "b"}, s.Sessions())
}

func TestScheduler_CancelAndClose(t *testing.T) {
	checker := &stubChecker{}
	s := NewCheckScheduler("book", checker, SchedulerConfig{Debounce: time.Hour}, nil, nil)

	require.NoError(t, s.Submit("sess", edit("pending")))
	require.NoError(t, s.Cancel("sess"))
	st, err := s.Status("sess")
	require.NoError(t, err)
	assert.Equal(t, SessionCancelled, st.State)

	_, err = s.Status("other")
	assert.True(t, errors.Is(err, entities.ErrSessionNotFound))
	assert.True(t, errors.Is(s.Cancel("other"), entities.ErrSessionNotFound))
	assert.True(t, errors.Is(s.Submit("", edit("x")), entities.ErrInvalidRequest))

	require.NoError(t, s.Submit("sess", edit("pending again")))
	s.Close()
	assert.True(t, errors.Is(s.Submit("sess", edit("late")), entities.ErrSchedulerClosed))
	assert.Zero(t, checker.Calls())
}
