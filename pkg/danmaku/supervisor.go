package danmaku

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Supervisor keeps one live Session per room. It reconnects after every
// close, and closes a session that misses its liveness window. Events from
// the current session are re-emitted to the Supervisor's listeners, plus
// Timeout.
type Supervisor struct {
	roomID  int64
	cfg     Config
	factory SessionFactory
	log     *zap.Logger

	emitter
	// serializes delivery between the session goroutine and timer callbacks
	emitMu sync.Mutex

	mu          sync.Mutex
	current     Client
	attempt     uint64
	ended       uint64
	closed      bool
	liveness    *time.Timer
	livenessSeq uint64
	retry       *time.Timer
	done        chan struct{}
}

// NewSupervisor validates roomID and starts the first session. Listeners are
// attached before it opens.
func NewSupervisor(roomID int64, cfg Config, factory SessionFactory, listeners ...Listener) (*Supervisor, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	sv := &Supervisor{
		roomID:  roomID,
		cfg:     cfg,
		factory: factory,
		log:     cfg.Logger.With(zap.Int64("room", roomID)),
		done:    make(chan struct{}),
	}
	for _, l := range listeners {
		sv.subscribe(l)
	}
	if err := sv.connect(); err != nil {
		return nil, err
	}
	return sv, nil
}

// RoomID returns the supervised room.
func (sv *Supervisor) RoomID() int64 { return sv.roomID }

// Attempts returns how many sessions were created so far.
func (sv *Supervisor) Attempts() uint64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.attempt
}

// Subscribe adds a listener and returns a function removing it.
func (sv *Supervisor) Subscribe(l Listener) (unsubscribe func()) {
	return sv.subscribe(l)
}

// Send forwards to the current session.
func (sv *Supervisor) Send(data []byte) {
	if s := sv.session(); s != nil {
		s.Send(data)
	}
}

// Heartbeat forwards to the current session.
func (sv *Supervisor) Heartbeat() {
	if s := sv.session(); s != nil {
		s.Heartbeat()
	}
}

// GetOnline forwards to the current session. The channel is closed without a
// value when there is none.
func (sv *Supervisor) GetOnline() <-chan int {
	if s := sv.session(); s != nil {
		return s.GetOnline()
	}
	ch := make(chan int)
	close(ch)
	return ch
}

// Online returns the current session's last viewer count.
func (sv *Supervisor) Online() int {
	if s := sv.session(); s != nil {
		return s.Online()
	}
	return 0
}

// Close stops reconnecting and closes the current session. Safe to call
// more than once.
func (sv *Supervisor) Close() {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return
	}
	sv.closed = true
	sv.stopLivenessLocked()
	if sv.retry != nil {
		sv.retry.Stop()
		sv.retry = nil
	}
	s := sv.current
	sv.mu.Unlock()

	sv.log.Info("supervisor closed")
	close(sv.done)
	if s != nil {
		s.Close()
	}
}

// Done is closed once Close was called.
func (sv *Supervisor) Done() <-chan struct{} { return sv.done }

func (sv *Supervisor) session() Client {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.current
}

func (sv *Supervisor) connect() error {
	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		return ErrClosed
	}
	sv.attempt++
	attempt := sv.attempt
	sv.retry = nil
	sv.mu.Unlock()

	sv.cfg.Metrics.sessionStarted(sv.roomID, attempt > 1)
	s, err := sv.factory(sv.roomID, func(ev Event) { sv.relay(attempt, ev) })
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	sv.mu.Lock()
	if sv.closed {
		sv.mu.Unlock()
		s.Close()
		return ErrClosed
	}
	sv.current = s
	if sv.ended != attempt {
		sv.armLivenessLocked(attempt)
	}
	sv.mu.Unlock()

	sv.log.Debug("session started", zap.Uint64("attempt", attempt))
	return nil
}

func (sv *Supervisor) reconnect() {
	err := sv.connect()
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	sv.log.Warn("reconnect failed", zap.Error(err))

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if !sv.closed {
		sv.scheduleRetryLocked()
	}
}

// relay forwards events of the current attempt; anything from an older
// session is dropped.
func (sv *Supervisor) relay(attempt uint64, ev Event) {
	sv.mu.Lock()
	if attempt != sv.attempt {
		sv.mu.Unlock()
		return
	}
	switch ev.(type) {
	case Heartbeat:
		if !sv.closed {
			sv.armLivenessLocked(attempt)
		}
	case Close:
		sv.ended = attempt
		sv.stopLivenessLocked()
		if !sv.closed {
			sv.log.Info("session closed, reconnecting", zap.Duration("delay", sv.cfg.RetryInterval))
			sv.scheduleRetryLocked()
		}
	case Open, Live, Msg, Command, Error:
	default:
		sv.mu.Unlock()
		return
	}
	sv.mu.Unlock()

	sv.deliver(ev)
}

func (sv *Supervisor) deliver(ev Event) {
	sv.emitMu.Lock()
	defer sv.emitMu.Unlock()
	sv.emit(ev)
}

func (sv *Supervisor) scheduleRetryLocked() {
	if sv.retry != nil {
		return
	}
	sv.retry = time.AfterFunc(sv.cfg.RetryInterval, sv.reconnect)
}

func (sv *Supervisor) armLivenessLocked(attempt uint64) {
	sv.stopLivenessLocked()
	sv.livenessSeq++
	seq := sv.livenessSeq
	sv.liveness = time.AfterFunc(sv.cfg.LivenessTimeout, func() { sv.expire(attempt, seq) })
}

func (sv *Supervisor) stopLivenessLocked() {
	if sv.liveness != nil {
		sv.liveness.Stop()
		sv.liveness = nil
	}
}

func (sv *Supervisor) expire(attempt, seq uint64) {
	// Timeout must reach listeners before the Close it causes.
	sv.emitMu.Lock()
	defer sv.emitMu.Unlock()

	// check and Close share one critical section with relay
	sv.mu.Lock()
	if sv.closed || attempt != sv.attempt || seq != sv.livenessSeq || sv.ended == attempt {
		sv.mu.Unlock()
		return
	}
	sv.liveness = nil
	sv.livenessSeq++
	s := sv.current
	if s != nil {
		s.Close()
	}
	sv.mu.Unlock()

	sv.log.Warn("no heartbeat within liveness window, closing session",
		zap.Duration("timeout", sv.cfg.LivenessTimeout),
		zap.Uint64("attempt", attempt),
	)
	sv.cfg.Metrics.timedOut(sv.roomID)
	sv.emit(Timeout{})
}
