package mirrors

import (
	"sync"
	"time"
)

// RetryPolicy bounds the retry subsystem: linear backoff (base delay times
// the attempt number) capped at MaxDelay, for at most MaxAttempts attempts.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used when a subscription declares
// none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 8,
	}
}

// Delay returns the backoff before the given attempt (1-based). Delays are
// non-decreasing in the attempt number and never exceed MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay * time.Duration(attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryTask is one pending retry timer for a single row.
type retryTask struct {
	attempt int
	timer   *time.Timer
}

// retryScheduler owns the pending retry timers of one subscription,
// keyed by (mirror table, row id). At most one timer exists per key:
// scheduling a key that already has a pending task replaces it, so a fresh
// diff for a row supersedes its stale retry instead of duplicating it.
type retryScheduler struct {
	policy RetryPolicy

	mu     sync.Mutex
	tasks  map[string]*retryTask
	closed bool
}

func newRetryScheduler(policy RetryPolicy) *retryScheduler {
	return &retryScheduler{
		policy: policy,
		tasks:  make(map[string]*retryTask),
	}
}

// schedule arms a retry timer for key at the given attempt number and
// reports whether it was armed. It returns false once the scheduler is
// stopped or the attempt exceeds the policy ceiling; the caller decides how
// to surface abandonment. fire runs on its own goroutine when the timer
// elapses.
func (s *retryScheduler) schedule(key string, attempt int, fire func(attempt int)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || attempt > s.policy.MaxAttempts {
		return false
	}

	if existing, ok := s.tasks[key]; ok {
		existing.timer.Stop()
	}

	task := &retryTask{attempt: attempt}
	task.timer = time.AfterFunc(s.policy.Delay(attempt), func() {
		// Suppress timers that lost the race with stop() or were
		// superseded by a newer task for the same key.
		s.mu.Lock()
		current, ok := s.tasks[key]
		if s.closed || !ok || current != task {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()

		fire(attempt)
	})
	s.tasks[key] = task

	return true
}

// cancel drops the pending retry for key, if any. Called when a fresh diff
// delivers the row through the normal path.
func (s *retryScheduler) cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[key]; ok {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}

// pending reports the number of armed retry timers.
func (s *retryScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// stop cancels every pending timer and refuses all further scheduling.
// Timers that already fired keep running to completion; only not-yet-started
// retries are suppressed.
func (s *retryScheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, key)
	}
}
