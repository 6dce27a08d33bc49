// Package notify delivers out-of-band messages (verification and reset
// links, security notices) without blocking the request that caused them.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/sethvargo/go-retry"
)

type Kind string

const (
	KindVerifyEmail     Kind = "verify_email"
	KindPasswordReset   Kind = "password_reset"
	KindPasswordChanged Kind = "password_changed"
	KindAccountClosed   Kind = "account_closed"
)

// Message is one delivery request. Token carries the one-time secret for
// link-bearing kinds and is empty otherwise.
type Message struct {
	Kind      Kind      `json:"kind"`
	AccountID string    `json:"account_id"`
	To        string    `json:"to"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Enqueuer is the non-blocking side the service depends on.
type Enqueuer interface {
	Enqueue(msg Message) bool
}

const (
	DefaultQueueSize   = 256
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultSendTimeout = 10 * time.Second
)

// Options tunes a Dispatcher. Zero values select the defaults.
type Options struct {
	QueueSize   int
	MaxRetries  uint64
	BackoffBase time.Duration
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     metrics.Recorder
}

// Dispatcher queues messages in a bounded channel and delivers them from a
// single worker, retrying transient failures with exponential backoff.
// When the queue is full Enqueue drops the message rather than block.
type Dispatcher struct {
	sender  Sender
	opts    Options
	logger  *slog.Logger
	metrics metrics.Recorder

	queue  chan Message
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	started bool
}

var _ Enqueuer = (*Dispatcher)(nil)

func NewDispatcher(sender Sender, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var rec metrics.Recorder = metrics.Nop{}
	if opts.Metrics != nil {
		rec = opts.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:  sender,
		opts:    opts,
		logger:  logger,
		metrics: rec,
		queue:   make(chan Message, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker. It is non-blocking; call Stop to drain.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
	d.logger.Info("notification dispatcher started", slog.Int("queue_size", d.opts.QueueSize))
}

// Enqueue hands msg to the worker. It never blocks and reports false when
// the message was dropped because the queue is full or the dispatcher stopped.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped(msg, "stopped")
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.dropped(msg, "queue_full")
		return false
	}
}

func (d *Dispatcher) dropped(msg Message, reason string) {
	d.metrics.RecordNotification(string(msg.Kind), "dropped")
	d.logger.Warn("notification dropped",
		slog.String("kind", string(msg.Kind)),
		slog.String("account_id", msg.AccountID),
		slog.String("reason", reason))
}

// Stop refuses new messages and waits for queued ones to be delivered. If
// ctx expires first, in-flight deliveries are cancelled and the rest are
// abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	select {
	case <-d.done:
		d.cancel()
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	l := d.logger.With(slog.String("kind", string(msg.Kind)), slog.String("account_id", msg.AccountID))

	backoff := retry.WithMaxRetries(d.opts.MaxRetries, retry.NewExponential(d.opts.BackoffBase))
	attempts := 0
	err := retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
		if err := d.sender.Send(sendCtx, msg); err != nil {
			l.Debug("notification attempt failed", slog.Int("attempt", attempts), slog.Any("error", err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.metrics.RecordNotification(string(msg.Kind), "failed")
		l.Error("notification delivery failed", slog.Int("attempts", attempts), slog.Any("error", err))
		return
	}
	d.metrics.RecordNotification(string(msg.Kind), "sent")
}
