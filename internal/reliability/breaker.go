package reliability

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker trips open after failureThreshold consecutive failures and
// rejects calls until timeout has elapsed, then lets one probe through.
// A success anywhere resets the failure count.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	timeout          time.Duration

	failures  int
	openUntil time.Time

	// now is swappable for tests.
	now func() time.Time
}

func NewBreaker(failureThreshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Execute runs action unless the breaker is open. The action's error is
// returned as-is; ErrCircuitOpen means the action never ran.
func (b *Breaker) Execute(action func() error) error {
	b.mu.Lock()
	if b.now().Before(b.openUntil) {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := action()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openUntil = b.now().Add(b.timeout)
			b.failures = 0
		}
		return err
	}
	b.failures = 0
	return nil
}
