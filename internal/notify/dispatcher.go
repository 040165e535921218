package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/metrics"
)

// DefaultTimeout bounds a single sender call.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is reported when a sender does not finish within the dispatcher timeout.
var ErrTimeout = errors.New("notify: delivery timed out")

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithEmailSender sets the email channel sender.
func WithEmailSender(sender EmailSender) Option {
	return func(d *Dispatcher) {
		if sender != nil {
			d.email = sender
		}
	}
}

// WithSMSSender sets the SMS channel sender.
func WithSMSSender(sender SMSSender) Option {
	return func(d *Dispatcher) {
		if sender != nil {
			d.sms = sender
		}
	}
}

// WithTimeout overrides the per-delivery timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRenderer replaces the default template renderer.
func WithRenderer(renderer *Renderer) Option {
	return func(d *Dispatcher) {
		if renderer != nil {
			d.renderer = renderer
		}
	}
}

// OnResult registers a callback invoked once for every job started by Dispatch.
func OnResult(fn func(Job, Result)) Option {
	return func(d *Dispatcher) {
		d.observer = fn
	}
}

// Dispatcher renders notifications and hands them to channel senders.
type Dispatcher struct {
	renderer *Renderer
	email    EmailSender
	sms      SMSSender
	timeout  time.Duration
	observer func(Job, Result)
	log      *zap.Logger

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Channels without a configured sender fall back to
// LogSender.
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		timeout: DefaultTimeout,
		log:     logger.WithModule("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.renderer == nil {
		renderer, err := NewRenderer("")
		if err != nil {
			return nil, err
		}
		d.renderer = renderer
	}
	if d.email == nil || d.sms == nil {
		fallback := NewLogSender()
		if d.email == nil {
			d.email = fallback
		}
		if d.sms == nil {
			d.sms = fallback
		}
	}
	return d, nil
}

// Send delivers req and waits for the outcome. It never panics and never returns an
// error value; failures are described by the Result.
func (d *Dispatcher) Send(ctx context.Context, req Request) Result {
	start := time.Now()
	result := d.send(ctx, req)
	d.record(req, result, time.Since(start))
	return result
}

// Dispatch starts one detached delivery per job and returns immediately. Jobs run
// independently of each other and of the caller's context.
func (d *Dispatcher) Dispatch(jobs ...Job) {
	for _, job := range jobs {
		d.wg.Add(1)
		metrics.NotificationsInFlight.Inc()
		go func(job Job) {
			defer d.wg.Done()
			defer metrics.NotificationsInFlight.Dec()

			result := d.Send(context.Background(), job)
			if d.observer != nil {
				d.notifyObserver(job, result)
			}
		}(job)
	}
}

// Wait blocks until every dispatched job has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify: abandoning in-flight deliveries: %w", ctx.Err())
	}
}

func (d *Dispatcher) send(ctx context.Context, req Request) Result {
	if err := req.validate(); err != nil {
		return failure(err)
	}

	rendered, err := d.render(req)
	if err != nil {
		return failure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		receipt Receipt
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("notify: sender panic: %v", r)}
			}
			done <- out
		}()
		out.receipt, out.err = d.deliver(ctx, req, rendered)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return failure(ErrTimeout)
			}
			return failure(out.err)
		}
		return Result{Success: true, MessageID: out.receipt.MessageID}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(ErrTimeout)
		}
		return failure(ctx.Err())
	}
}

func (d *Dispatcher) render(req Request) (rendered Rendered, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify: render panic: %v", r)
		}
	}()
	return d.renderer.Render(req.Channel, req.Type, req.Name, req.Data)
}

func (d *Dispatcher) deliver(ctx context.Context, req Request, rendered Rendered) (Receipt, error) {
	switch req.Channel {
	case ChannelEmail:
		return d.email.SendEmail(ctx, EmailMessage{
			To:      req.To,
			Subject: rendered.Subject,
			Text:    rendered.Text,
			HTML:    rendered.HTML,
		})
	case ChannelSMS:
		return d.sms.SendSMS(ctx, req.To, rendered.Text)
	default:
		return Receipt{}, fmt.Errorf("notify: unsupported channel %q", req.Channel)
	}
}

func (d *Dispatcher) record(req Request, result Result, elapsed time.Duration) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	channel, typ := string(req.Channel), string(req.Type)
	if !req.Channel.Valid() {
		channel = "invalid"
	}
	if !req.Type.Valid() {
		typ = "invalid"
	}
	metrics.Notifications.WithLabelValues(channel, typ, outcome).Inc()
	metrics.NotificationLatency.WithLabelValues(channel).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("channel", channel),
		zap.String("type", typ),
		zap.String("to", maskRecipient(req.To)),
		zap.Duration("elapsed", elapsed),
	}
	if result.Success {
		d.log.Info("notification delivered", append(fields, zap.String("message_id", result.MessageID))...)
		return
	}
	d.log.Warn("notification failed", append(fields, zap.String("error", result.Error))...)
}

func (d *Dispatcher) notifyObserver(job Job, result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification observer panicked", zap.Any("panic", r))
		}
	}()
	d.observer(job, result)
}
