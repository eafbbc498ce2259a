package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
)

// Scheduler defaults.
const (
	DefaultDebounce     = 2 * time.Second
	DefaultThrottle     = 3 * time.Second
	DefaultCheckTimeout = 30 * time.Second
)

// SessionState is the state of the latest check of an editing session.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionRunning   SessionState = "running"
	SessionDone      SessionState = "done"
	SessionFailed    SessionState = "failed"
	SessionSkipped   SessionState = "skipped"
	SessionCancelled SessionState = "cancelled"
)

// SessionStatus is the pollable state of an editing session. Result is the
// last successful check and survives later failures and skips.
type SessionStatus struct {
	SessionID     string       `json:"session_id"`
	BookID        string       `json:"book_id"`
	State         SessionState `json:"state"`
	Result        *CheckResult `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LastCheckedAt time.Time    `json:"last_checked_at,omitzero"`
}

// Checker runs one incremental check.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (CheckResult, error)
}

// SchedulerConfig controls debouncing and throttling.
type SchedulerConfig struct {
	Debounce time.Duration
	Throttle time.Duration
	Timeout  time.Duration
}

// DefaultSchedulerConfig returns the default scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Debounce: DefaultDebounce,
		Throttle: DefaultThrottle,
		Timeout:  DefaultCheckTimeout,
	}
}

// CheckScheduler runs incremental checks per editing session. Every
// submission is a cancellable task: it cancels the session's previous
// task, pending or running, and fires after the debounce delay unless it
// is itself cancelled first. A task firing sooner than the throttle allows
// is skipped.
type CheckScheduler struct {
	bookID  string
	checker Checker
	cfg     SchedulerConfig
	metrics ports.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	tasks    sync.WaitGroup
}

type session struct {
	limiter *rate.Limiter
	task    *checkTask
	status  SessionStatus
}

type checkTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	req    CheckRequest
}

// NewCheckScheduler creates a scheduler for one book.
func NewCheckScheduler(bookID string, checker Checker, cfg SchedulerConfig, metrics ports.Metrics, logger *slog.Logger) *CheckScheduler {
	def := DefaultSchedulerConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = def.Throttle
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckScheduler{
		bookID:   bookID,
		checker:  checker,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("book_id", bookID),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Submit schedules a check of req for the session, replacing any pending
// or in-flight check of that session.
func (s *CheckScheduler) Submit(sessionID string, req CheckRequest) error {
	if sessionID == "" {
		return fmt.Errorf("session id: %w", entities.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return entities.ErrSchedulerClosed
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{
			limiter: rate.NewLimiter(rate.Every(s.cfg.Throttle), 1),
			status:  SessionStatus{SessionID: sessionID, BookID: s.bookID},
		}
		s.sessions[sessionID] = sess
	}
	s.cancelTask(sess)

	ctx, cancel := context.WithCancel(context.Background())
	task := &checkTask{ctx: ctx, cancel: cancel, req: req}
	sess.task = task
	sess.status.State = SessionPending
	sess.status.Error = ""
	sess.status.UpdatedAt = s.now()

	s.tasks.Add(1)
	task.timer = time.AfterFunc(s.cfg.Debounce, func() {
		defer s.tasks.Done()
		s.fire(sessionID, sess, task)
	})
	return nil
}

// cancelTask cancels the session's current task. Callers hold s.mu.
func (s *CheckScheduler) cancelTask(sess *session) {
	if sess.task == nil {
		return
	}
	sess.task.cancel()
	if sess.task.timer.Stop() {
		s.tasks.Done()
	}
	sess.task = nil
}

func (s *CheckScheduler) fire(sessionID string, sess *session, task *checkTask) {
	s.mu.Lock()
	if sess.task != task || task.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if !sess.limiter.AllowN(s.now(), 1) {
		sess.task = nil
		task.cancel()
		sess.status.State = SessionSkipped
		sess.status.UpdatedAt = s.now()
		s.mu.Unlock()
		s.metrics.CheckFinished(CheckSkipped, 0)
		s.logger.Debug("check skipped by throttle", "session_id", sessionID)
		return
	}
	sess.status.State = SessionRunning
	sess.status.UpdatedAt = s.now()
	s.mu.Unlock()

	// The timeout bounds the check's own work. Waiting for the commit lock
	// behind a batch scan is bounded only by the task.
	ctx, cancel := context.WithTimeout(task.ctx, s.cfg.Timeout)
	defer cancel()
	res, err := s.checker.Check(withCommitQueue(ctx, task.ctx), task.req)

	s.mu.Lock()
	defer s.mu.Unlock()
	superseded := sess.task != task
	if !superseded {
		sess.task = nil
	}
	task.cancel()

	switch {
	case superseded:
		// A newer submission owns the session state.
	case err != nil:
		sess.status.State = SessionFailed
		sess.status.Error = err.Error()
		sess.status.UpdatedAt = s.now()
		s.logger.Warn("incremental check failed", "session_id", sessionID, "chapter_id", task.req.ChapterID, "error", err)
	default:
		sess.status.State = SessionDone
		sess.status.Result = &res
		sess.status.UpdatedAt = s.now()
		sess.status.LastCheckedAt = sess.status.UpdatedAt
	}
}

// Status returns the state of a session.
func (s *CheckScheduler) Status(sessionID string) (SessionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionStatus{}, fmt.Errorf("session %s: %w", sessionID, entities.ErrSessionNotFound)
	}
	st := sess.status
	if st.Result != nil {
		res := *st.Result
		res.Issues = append([]entities.ConsistencyIssue(nil), res.Issues...)
		st.Result = &res
	}
	return st, nil
}

// Sessions returns the IDs of the known sessions.
func (s *CheckScheduler) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel cancels the pending or running check of a session.
func (s *CheckScheduler) Cancel(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, entities.ErrSessionNotFound)
	}
	if sess.task != nil {
		s.cancelTask(sess)
		sess.status.State = SessionCancelled
		sess.status.UpdatedAt = s.now()
	}
	return nil
}

// Close cancels every task and waits for running checks to return.
func (s *CheckScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, sess := range s.sessions {
		s.cancelTask(sess)
	}
	s.mu.Unlock()
	s.tasks.Wait()
}
