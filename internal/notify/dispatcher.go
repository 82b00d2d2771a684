// internal/notify/dispatcher.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts = 5
	defaultSendTimeout = 10 * time.Second
	defaultSendRate    = rate.Limit(10)
	defaultSendBurst   = 5
)

// Channel delivers a rendered message to one destination.
type Channel interface {
	Kind() ChannelKind
	Send(ctx context.Context, dest string, msg Message) error
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts bounds the sends per channel in one Notify call.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the exponential backoff between sends.
func WithRetryInterval(initial, max time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initialInterval = initial
		}
		if max > 0 {
			d.maxInterval = max
		}
	}
}

// WithSendTimeout bounds a single send attempt.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithSendRate throttles each channel independently.
func WithSendRate(limit rate.Limit, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		d.sendRate = limit
		d.sendBurst = burst
	}
}

// WithBreaker overrides the per-channel circuit breaker: it opens after
// failures consecutive transient errors and half-opens after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if failures > 0 {
			d.breakerFailures = failures
		}
		if cooldown > 0 {
			d.breakerCooldown = cooldown
		}
	}
}

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type channelRunner struct {
	channel Channel
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher fans a job out to its channels. Channels never wait on each
// other and a failing one cannot fail the rest.
type Dispatcher struct {
	resolver        Resolver
	runners         map[ChannelKind]*channelRunner
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	sendTimeout     time.Duration
	sendRate        rate.Limit
	sendBurst       int
	breakerFailures uint32
	breakerCooldown time.Duration
	logger          *slog.Logger
	deliveries      metric.Int64Counter
}

// NewDispatcher wires each channel behind its own limiter and breaker.
func NewDispatcher(resolver Resolver, channels []Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver:        resolver,
		runners:         make(map[ChannelKind]*channelRunner, len(channels)),
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     5 * time.Second,
		sendTimeout:     defaultSendTimeout,
		sendRate:        defaultSendRate,
		sendBurst:       defaultSendBurst,
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	counter, err := otel.Meter("loyalnexus/notify").Int64Counter("loyalnexus.notify.deliveries",
		metric.WithDescription("Notification delivery outcomes per channel"))
	if err != nil {
		d.logger.Warn("delivery counter unavailable", slog.Any("error", err))
	}
	d.deliveries = counter

	for _, ch := range channels {
		kind := ch.Kind()
		d.runners[kind] = &channelRunner{
			channel: ch,
			limiter: rate.NewLimiter(d.sendRate, d.sendBurst),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    string(kind),
				Timeout: d.breakerCooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= d.breakerFailures
				},
				// A bad destination says nothing about the health of the channel.
				IsSuccessful: func(err error) bool {
					return err == nil || IsPermanent(err)
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					d.logger.Warn("notification channel breaker changed state",
						slog.String("channel", name),
						slog.String("from", from.String()),
						slog.String("to", to.String()))
				},
			}),
		}
	}
	return d
}

// JobBudget is the longest the retry loop of one Notify call can run: every
// attempt times out and every wait lands on the jittered ceiling. Channels
// run concurrently, so the budget does not grow with their number.
func (d *Dispatcher) JobBudget() time.Duration {
	wait := time.Duration(float64(d.maxInterval) * (1 + backoff.DefaultRandomizationFactor))
	return time.Duration(d.maxAttempts)*d.sendTimeout + time.Duration(d.maxAttempts-1)*wait
}

// Notify attempts every channel on the job concurrently and reports one
// status per channel.
func (d *Dispatcher) Notify(ctx context.Context, job Job) []DeliveryStatus {
	if len(job.Channels) == 0 {
		return nil
	}

	statuses := make([]DeliveryStatus, len(job.Channels))
	recipient, err := d.resolver.Resolve(ctx, job.BusinessID)
	if err != nil {
		for i, kind := range job.Channels {
			statuses[i] = DeliveryStatus{
				Channel: kind,
				State:   DeliveryTransientFailure,
				Error:   fmt.Sprintf("resolve recipient: %v", err),
			}
		}
		return statuses
	}

	msg := Message{
		Kind:          job.Kind,
		BusinessName:  recipient.BusinessName,
		CustomerEmail: job.CustomerEmail,
		Sequence:      job.Sequence,
		RewardID:      job.RewardID,
		OccurredAt:    job.CreatedAt,
	}

	var wg sync.WaitGroup
	for i, kind := range job.Channels {
		wg.Add(1)
		go func(i int, kind ChannelKind) {
			defer wg.Done()
			statuses[i] = d.deliver(ctx, kind, recipient, msg)
			d.record(ctx, statuses[i])
		}(i, kind)
	}
	wg.Wait()
	return statuses
}

func (d *Dispatcher) deliver(ctx context.Context, kind ChannelKind, recipient *Recipient, msg Message) DeliveryStatus {
	status := DeliveryStatus{Channel: kind}

	runner, ok := d.runners[kind]
	if !ok {
		status.State = DeliveryPermanentFailure
		status.Error = fmt.Sprintf("channel %s is not configured", kind)
		return status
	}
	dest, ok := recipient.Address(kind)
	if !ok || dest == "" {
		status.State = DeliveryPermanentFailure
		status.Error = fmt.Sprintf("no %s destination configured", kind)
		return status
	}

	operation := func() (struct{}, error) {
		status.Attempts++
		if err := runner.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err := runner.breaker.Execute(func() (interface{}, error) {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			return nil, runner.channel.Send(sendCtx, dest, msg)
		})
		if err != nil && IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     d.initialInterval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         d.maxInterval,
		}),
		backoff.WithMaxTries(uint(d.maxAttempts)),
	)
	switch {
	case err == nil:
		status.State = DeliveryDelivered
	case IsPermanent(err):
		status.State = DeliveryPermanentFailure
		status.Error = err.Error()
	default:
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s circuit open: %w", kind, err)
		}
		status.State = DeliveryTransientFailure
		status.Error = err.Error()
	}
	return status
}

func (d *Dispatcher) record(ctx context.Context, st DeliveryStatus) {
	if d.deliveries != nil {
		d.deliveries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", string(st.Channel)),
			attribute.String("state", string(st.State)),
		))
	}
	if st.State != DeliveryDelivered {
		d.logger.WarnContext(ctx, "notification not delivered",
			slog.String("channel", string(st.Channel)),
			slog.String("state", string(st.State)),
			slog.Int("attempts", st.Attempts),
			slog.String("error", st.Error))
	}
}
