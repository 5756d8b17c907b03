// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reauth

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/timer"
)

// ErrStopped is returned when an event is sent to a stopped Runner.
var ErrStopped = errors.New("reauth runner stopped")

// queueSize bounds how many events may wait for the engine goroutine.
const queueSize = 256

// Update is delivered to the host after every event. Actions holds only
// presentation actions; commands were already executed.
type Update struct {
	Event   Event
	State   EngineState
	Actions []Action
	Err     error
}

// Auditor records security events.
type Auditor interface {
	Record(ev LogSecurityEvent)
}

// Runner owns an Engine on a single goroutine. Events from the host,
// capability results and timer expirations are queued and applied one at a
// time.
type Runner struct {
	id      string
	engine  *Engine
	cap     biometric.Capability
	timers  *timer.Timers
	log     *zap.Logger
	host    func(Update)
	auditor Auditor

	queue chan envelope

	mu      sync.Mutex
	started bool
	state   EngineState
	cancels map[timer.Token]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	authWG sync.WaitGroup
}

type envelope struct {
	ev    Event
	reply chan Update
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHost sets the function receiving every Update. It runs on the engine
// goroutine and must not call Dispatch.
func WithHost(fn func(Update)) RunnerOption {
	return func(r *Runner) { r.host = fn }
}

// WithAuditor sets the sink for LogSecurityEvent actions.
func WithAuditor(a Auditor) RunnerOption {
	return func(r *Runner) { r.auditor = a }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(log *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner. Start must be called before events are
// accepted.
func NewRunner(engine *Engine, capability biometric.Capability, timers *timer.Timers, opts ...RunnerOption) *Runner {
	if capability == nil {
		capability = biometric.Unavailable{}
	}
	r := &Runner{
		id:      uuid.NewString(),
		engine:  engine,
		cap:     capability,
		timers:  timers,
		log:     zap.NewNop(),
		queue:   make(chan envelope, queueSize),
		cancels: make(map[timer.Token]context.CancelFunc),
		state:   engine.State(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("runner").With(zap.String("runner_id", r.id))
	return r
}

// ID returns the runner instance id.
func (r *Runner) ID() string { return r.id }

// Start launches the engine goroutine and queues Init with the probed
// capability kind. The runner stops when ctx is cancelled or Stop is
// called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return errors.New("reauth runner already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go r.loop()

	kind := r.cap.Probe()
	r.log.Info("runner started", zap.Stringer("kind", kind))
	return r.Submit(Init{Kind: kind})
}

// Stop cancels in-flight authentications, disarms every timer and waits
// for the engine goroutine to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started || r.cancel == nil {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.done
	r.authWG.Wait()
	r.log.Info("runner stopped")
}

// State returns the latest snapshot.
func (r *Runner) State() EngineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Submit queues ev without waiting for it to be applied.
func (r *Runner) Submit(ev Event) error {
	return r.enqueue(context.Background(), envelope{ev: ev})
}

// Dispatch queues ev and waits until it has been applied.
func (r *Runner) Dispatch(ctx context.Context, ev Event) (Update, error) {
	env := envelope{ev: ev, reply: make(chan Update, 1)}
	if err := r.enqueue(ctx, env); err != nil {
		return Update{}, err
	}
	select {
	case u := <-env.reply:
		return u, u.Err
	case <-ctx.Done():
		return Update{}, ctx.Err()
	case <-r.done:
		return Update{}, ErrStopped
	}
}

// LifecycleHandler returns a handler for lifecycle.Monitor. Backgrounding
// is applied before the handler returns.
func (r *Runner) LifecycleHandler() func(lifecycle.Signal) {
	return func(sig lifecycle.Signal) {
		if _, err := r.Dispatch(context.Background(), LifecycleChanged{Signal: sig}); err != nil {
			r.log.Warn("lifecycle event failed", zap.Stringer("signal", sig), zap.Error(err))
		}
	}
}

func (r *Runner) enqueue(ctx context.Context, env envelope) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return ErrNotInitialized
	}

	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.queue <- env:
		return nil
	case <-r.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// ENGINE GOROUTINE
// =============================================================================

func (r *Runner) loop() {
	defer close(r.done)
	defer r.shutdown()

	for {
		select {
		case <-r.ctx.Done():
			return
		case env := <-r.queue:
			u := r.apply(env.ev)
			if env.reply != nil {
				env.reply <- u
			}
		}
	}
}

func (r *Runner) apply(ev Event) Update {
	if done, ok := ev.(AuthCompleted); ok {
		r.releaseAuth(done.Token)
	}

	state, actions, err := r.engine.Handle(ev)

	var host []Action
	for _, a := range actions {
		if cmd, ok := a.(Command); ok {
			r.execute(cmd)
			continue
		}
		if le, ok := a.(LogSecurityEvent); ok && r.auditor != nil {
			r.auditor.Record(le)
		}
		host = append(host, a)
	}

	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	if err != nil {
		r.log.Error("event failed", zap.String("event", EventName(ev)), zap.Error(err))
	} else {
		r.log.Debug("event applied",
			zap.String("event", EventName(ev)),
			zap.Stringer("phase", state.Phase),
			zap.Uint64("generation", state.Generation))
	}

	u := Update{Event: ev, State: state, Actions: host, Err: err}
	if r.host != nil {
		r.host(u)
	}
	return u
}

func (r *Runner) execute(cmd Command) {
	switch c := cmd.(type) {
	case Authenticate:
		r.startAuth(c)
	case ArmTimer:
		r.timers.Arm(c.Kind, c.After, c.Token, func(x timer.Expiry) {
			if err := r.Submit(TimerFired{Expiry: x}); err != nil {
				r.log.Debug("timer expiry dropped", zap.Stringer("kind", x.Kind), zap.Error(err))
			}
		})
	case DisarmTimer:
		r.timers.Disarm(c.Kind)
	case DisarmAllTimers:
		r.timers.DisarmAll()
	case CancelAuth:
		r.releaseAuth(c.Token)
	}
}

// startAuth runs the capability off the engine goroutine. The result comes
// back as an AuthCompleted event; a cancelled call is discarded by token.
func (r *Runner) startAuth(c Authenticate) {
	ctx, cancel := context.WithCancel(r.ctx)

	r.mu.Lock()
	r.cancels[c.Token] = cancel
	r.mu.Unlock()

	r.authWG.Add(1)
	go func() {
		defer r.authWG.Done()
		out := r.cap.Authenticate(ctx, c.Prompt)
		if err := r.Submit(AuthCompleted{Token: c.Token, Outcome: out}); err != nil {
			r.log.Debug("authentication result dropped", zap.Error(err))
		}
	}()
}

func (r *Runner) releaseAuth(tok timer.Token) {
	r.mu.Lock()
	cancel, ok := r.cancels[tok]
	delete(r.cancels, tok)
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

func (r *Runner) shutdown() {
	r.timers.DisarmAll()

	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[timer.Token]context.CancelFunc)
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
