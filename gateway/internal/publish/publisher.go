// Package publish owns the gateway's connection to the durable log and
// the readiness state machine around it:
//
//	disconnected -> connecting -> ready
//	ready -> degraded -> connecting (on transport failure)
//
// While not ready, submissions fail fast with ErrNotReady so callers
// get a retryable signal instead of events buffered in process memory.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driftline-systems/driftline-stack/common/logging"
	"github.com/driftline-systems/driftline-stack/common/messaging"
	"github.com/driftline-systems/driftline-stack/gateway/internal/metrics"
)

// ErrNotReady signals the publisher has no usable log connection.
// Callers should surface a retryable-unavailable response.
var ErrNotReady = errors.New("publisher not ready")

// State is the publisher readiness state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// Connector dials the durable log. Injected so tests can run the state
// machine against fakes.
type Connector func(ctx context.Context) (messaging.EventPublisher, error)

// Config tunes the connect/backoff cycle.
type Config struct {
	// BackoffBase is the initial retry delay (doubles per attempt).
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// ConnectAttempts bounds one connect cycle; once exhausted the
	// publisher reports degraded while redialing continues.
	ConnectAttempts int
}

// DefaultConfig matches the contract: 100ms base, capped attempts.
func DefaultConfig() Config {
	return Config{
		BackoffBase:     100 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		ConnectAttempts: 5,
	}
}

// Publisher is the gateway's handle on the durable log. Readiness is
// explicit instance state, not a process-wide flag, so tests can run
// several independent publishers side by side.
type Publisher struct {
	connect Connector
	cfg     Config
	logger  *logging.Logger

	mu    sync.RWMutex
	state State
	log   messaging.EventPublisher

	redial chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Publisher in the disconnected state. Call Start to
// begin dialing.
func New(connect Connector, cfg Config, logger *logging.Logger) *Publisher {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 5
	}
	return &Publisher{
		connect: connect,
		cfg:     cfg,
		logger:  logger,
		state:   StateDisconnected,
		redial:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the background connect loop. It returns immediately;
// readiness is observable via State and Ready.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// State returns the current readiness state.
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Ready reports whether submissions will be attempted.
func (p *Publisher) Ready() bool {
	return p.State() == StateReady
}

// Publish appends one event keyed by session. While not ready it fails
// fast with ErrNotReady; a transport failure demotes the publisher to
// degraded and triggers a background redial, without blocking other
// submissions.
func (p *Publisher) Publish(ctx context.Context, sessionID string, data []byte) error {
	p.mu.RLock()
	state, log := p.state, p.log
	p.mu.RUnlock()

	if state != StateReady || log == nil {
		return ErrNotReady
	}

	start := time.Now()
	err := log.Publish(ctx, sessionID, data)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// A failure caused by the caller's own context says nothing
		// about transport health; demoting here would let one slow or
		// disconnecting client take readiness away from everyone else.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p.demote(err)
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return nil
}

// Close stops the connect loop and releases the log connection.
func (p *Publisher) Close() {
	close(p.done)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.log != nil {
		_ = p.log.Close()
		p.log = nil
	}
	p.setStateLocked(StateDisconnected)
}

func (p *Publisher) demote(err error) {
	p.mu.Lock()
	if p.state == StateReady {
		p.setStateLocked(StateDegraded)
		p.logger.Warn("publisher demoted to degraded", logging.Error(err))
	}
	p.mu.Unlock()

	select {
	case p.redial <- struct{}{}:
	default: // redial already pending
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		if !p.dial(ctx) {
			return
		}

		// Connected; hold until a failure demands a redial.
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.redial:
			p.mu.Lock()
			if p.log != nil {
				_ = p.log.Close()
				p.log = nil
			}
			p.mu.Unlock()
		}
	}
}

// dial runs one connect cycle with bounded exponential backoff, then
// keeps retrying at the capped delay while reporting degraded. Returns
// false when shutdown was requested.
func (p *Publisher) dial(ctx context.Context) bool {
	p.setState(StateConnecting)

	backoff := p.cfg.BackoffBase
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-p.done:
			return false
		default:
		}

		log, err := p.connect(ctx)
		if err == nil {
			p.mu.Lock()
			p.log = log
			p.setStateLocked(StateReady)
			p.mu.Unlock()
			p.logger.Info("publisher ready", slog.Int("attempts", attempt))
			return true
		}

		p.logger.Warn("publisher connect failed",
			logging.Attempt(attempt), logging.Error(err))

		if attempt == p.cfg.ConnectAttempts {
			p.setState(StateDegraded)
		}

		select {
		case <-ctx.Done():
			return false
		case <-p.done:
			return false
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > p.cfg.BackoffMax {
			backoff = p.cfg.BackoffMax
		}
	}
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	p.setStateLocked(s)
	p.mu.Unlock()
}

func (p *Publisher) setStateLocked(s State) {
	p.state = s
	metrics.PublisherState.Set(float64(s))
}
