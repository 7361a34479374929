package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/otp"
)

var _ authcore.Sender = (*Async)(nil)

// ErrQueueFull is returned by [Async.Send] when the buffer is full.
var ErrQueueFull = errors.New("notify: delivery queue full")

type message struct {
	email string
	typ   otp.Type
	code  string
}

// AsyncConfig sizes the queue and bounds each delivery attempt.
type AsyncConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// Async queues messages for a fixed worker pool so a slow transport does not
// hold the request that triggered the code. Failed deliveries are logged and
// counted, not retried.
type Async struct {
	next    authcore.Sender
	cfg     AsyncConfig
	logger  *slog.Logger
	ch      chan message
	wg      sync.WaitGroup
	closed  atomic.Bool
	once    sync.Once
	mu      sync.RWMutex
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewAsync starts cfg.Workers goroutines delivering through next.
func NewAsync(next authcore.Sender, cfg AsyncConfig) *Async {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	a := &Async{
		next:   next,
		cfg:    cfg,
		logger: logger,
		ch:     make(chan message, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for m := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
		if err := a.next.Send(ctx, m.email, m.typ, m.code); err != nil {
			a.failed.Add(1)
			a.logger.Warn("otp delivery failed", "type", string(m.typ), "error", err)
		}
		cancel()
	}
}

// Send enqueues the message. It never blocks; a full queue returns
// [ErrQueueFull] so the caller can log it.
func (a *Async) Send(_ context.Context, email string, typ otp.Type, code string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed.Load() {
		return ErrQueueFull
	}
	select {
	case a.ch <- message{email: email, typ: typ, code: code}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed.Store(true)
		close(a.ch)
		a.mu.Unlock()
		a.wg.Wait()
	})
}

// Failed reports deliveries the wrapped sender rejected.
func (a *Async) Failed() uint64 { return a.failed.Load() }

// Dropped reports messages rejected because the queue was full.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }
