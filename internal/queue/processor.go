// Package queue delivers queued channel messages to eligible subscribers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/message-gateway/internal/common"
	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/sms"
	"github.com/example/message-gateway/internal/whatsapp"
)

const (
	DefaultInterval   = 2 * time.Minute
	DefaultBatchSize  = 50
	DefaultMaxRetries = 3
)

var ErrRunInProgress = errors.New("queue run already in progress")

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Messages handled by the queue processor by outcome",
	}, []string{"outcome"})
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_deliveries_total",
		Help: "Per-subscriber deliveries by route type and result",
	}, []string{"route_type", "result"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_run_duration_seconds",
		Help:    "Duration of a queue processor run",
		Buckets: prometheus.DefBuckets,
	})
)

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// RunStats summarizes one run.
type RunStats struct {
	Claimed   int
	Processed int
	Requeued  int
	Failed    int
}

type Processor struct {
	store    Store
	sms      SMSSender
	whatsapp WhatsAppSender
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	running atomic.Bool
	ticker  func(time.Duration) (<-chan time.Time, func())
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewProcessor(store Store, smsSender SMSSender, waSender WhatsAppSender, cfg Config, logger zerolog.Logger) *Processor {
	return &Processor{
		store:    store,
		sms:      smsSender,
		whatsapp: waSender,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "queue").Logger(),
		now:      time.Now,
		ticker:   newTicker,
		stopCh:   make(chan struct{}),
	}
}

// Start runs an initial pass and then one pass per interval until Stop or ctx is done.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.cfg.Interval).Int("batch_size", p.cfg.BatchSize).Msg("starting queue processor")
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop ends the tick loop and waits for an in-flight run to finish.
func (p *Processor) Stop() {
	p.stopped.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info().Msg("queue processor stopped")
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (p *Processor) loop(ctx context.Context) {
	defer p.wg.Done()
	ticks, stop := p.ticker(p.cfg.Interval)
	defer stop()

	p.tick(ctx)
	drain(ticks)
	for {
		select {
		case <-ticks:
			if ctx.Err() != nil {
				return
			}
			p.tick(ctx)
			drain(ticks)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain discards a tick that fired while a run was executing.
func drain(ticks <-chan time.Time) {
	select {
	case <-ticks:
	default:
	}
}

func (p *Processor) tick(ctx context.Context) {
	stats, err := p.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		p.logger.Debug().Msg("previous run still in progress, skipping tick")
	case err != nil:
		p.logger.Error().Err(err).Msg("queue run failed")
	case stats.Claimed > 0:
		p.logger.Info().Int("claimed", stats.Claimed).Int("processed", stats.Processed).
			Int("requeued", stats.Requeued).Int("failed", stats.Failed).Msg("queue run finished")
	}
}

// RunOnce claims a batch of due messages and processes them oldest first.
// It returns ErrRunInProgress when another run holds the guard. Once started,
// a run is not cancelled by ctx: every claimed message is settled before it
// returns.
func (p *Processor) RunOnce(ctx context.Context) (stats RunStats, err error) {
	if !p.running.CompareAndSwap(false, true) {
		return stats, ErrRunInProgress
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue run panicked: %v", r)
		}
		runDuration.Observe(time.Since(start).Seconds())
		p.running.Store(false)
	}()

	msgs, err := p.store.ClaimDueMessages(ctx, p.now().UTC(), p.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim due messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	stats.Claimed = len(msgs)

	for _, m := range msgs {
		switch p.handle(ctx, m) {
		case outcomeProcessed:
			stats.Processed++
		case outcomeRequeued:
			stats.Requeued++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeRequeued
	outcomeFailed
)

func (p *Processor) handle(ctx context.Context, m domain.Message) outcome {
	ctx, span := otel.Tracer("queue").Start(ctx, "queue.message")
	defer span.End()
	span.SetAttributes(attribute.Int64("message.id", m.ID), attribute.Int64("channel.id", m.ChannelID))
	log := common.WithContext(ctx, p.logger).With().Int64("message_id", m.ID).Int64("channel_id", m.ChannelID).Logger()

	result, err := p.deliver(ctx, m)
	if err == nil {
		if err := p.store.CompleteMessage(ctx, m.ID, result); err != nil {
			span.RecordError(err)
			log.Error().Err(err).Msg("failed to record message outcome")
			return p.retry(ctx, log, m, err)
		}
		messagesTotal.WithLabelValues("processed").Inc()
		log.Info().Int("sent", result.SentCount).Int("failed", result.FailedCount).Msg("message processed")
		return outcomeProcessed
	}

	span.RecordError(err)
	var ce *whatsapp.ContentError
	if errors.As(err, &ce) {
		next := m.Retry.Next(err, p.now().UTC())
		if ferr := p.store.FailMessage(ctx, m.ID, next); ferr != nil {
			log.Error().Err(ferr).Msg("failed to dead-letter message")
		}
		messagesTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("message content invalid, not retrying")
		return outcomeFailed
	}
	return p.retry(ctx, log, m, err)
}

func (p *Processor) retry(ctx context.Context, log zerolog.Logger, m domain.Message, cause error) outcome {
	next := m.Retry.Next(cause, p.now().UTC())
	if next.RetryCount >= p.cfg.MaxRetries {
		if err := p.store.FailMessage(ctx, m.ID, next); err != nil {
			log.Error().Err(err).Msg("failed to dead-letter message")
		}
		messagesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(cause).Int("retry_count", next.RetryCount).Msg("message exhausted retries")
		return outcomeFailed
	}
	if err := p.store.RequeueMessage(ctx, m.ID, next); err != nil {
		log.Error().Err(err).Msg("failed to requeue message")
	}
	messagesTotal.WithLabelValues("requeued").Inc()
	log.Warn().Err(cause).Int("retry_count", next.RetryCount).Msg("message requeued")
	return outcomeRequeued
}

// deliver resolves the channel and its audience and sends to every eligible
// member. Per-subscriber failures are recorded in the outcome, not returned.
func (p *Processor) deliver(ctx context.Context, m domain.Message) (domain.Outcome, error) {
	ch, err := p.store.GetChannel(ctx, m.ChannelID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if ch.Status != domain.ChannelActive {
		return domain.Outcome{}, fmt.Errorf("channel %d: %w", ch.ID, domain.ErrChannelInactive)
	}
	routeID, ok := ch.RouteID()
	if !ok {
		return domain.Outcome{}, &domain.RouteNotFoundError{Kind: ch.RouteType}
	}

	var send func(context.Context, string) (domain.SendResult, error)
	switch ch.RouteType {
	case domain.RouteSMS:
		send = func(ctx context.Context, phone string) (domain.SendResult, error) {
			return p.sms.Send(ctx, routeID, sms.Payload{To: phone, Text: m.Content})
		}
	case domain.RouteWhatsApp:
		content, err := whatsapp.ContentFromMessage(m)
		if err != nil {
			return domain.Outcome{}, err
		}
		if err := whatsapp.Validate(content); err != nil {
			return domain.Outcome{}, err
		}
		send = func(ctx context.Context, phone string) (domain.SendResult, error) {
			return p.whatsapp.Send(ctx, routeID, phone, content)
		}
	default:
		return domain.Outcome{}, fmt.Errorf("channel %d route type %q: %w", ch.ID, ch.RouteType, domain.ErrUnsupportedRouteType)
	}

	members, err := p.store.ListChannelMembers(ctx, ch.ID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("list channel members: %w", err)
	}
	var eligible []domain.Subscriber
	for _, mem := range members {
		if isEligible(*ch, mem) {
			eligible = append(eligible, mem.Subscriber)
		}
	}
	if len(eligible) == 0 {
		return domain.Outcome{}, domain.ErrNoEligibleSubscribers
	}

	out := domain.Outcome{Responses: make([]domain.DeliveryResult, 0, len(eligible))}
	for _, sub := range eligible {
		res, err := send(ctx, sub.Phone)
		dr := domain.DeliveryResult{
			Phone:             sub.Phone,
			Success:           err == nil && res.Success,
			ProviderMessageID: res.ProviderMessageID,
			Timestamp:         p.now().UTC(),
		}
		if err != nil {
			dr.Error = err.Error()
		} else if !res.Success {
			dr.Error = domain.ErrProviderRejected.Error()
		}
		if dr.Success {
			out.SentCount++
			deliveriesTotal.WithLabelValues(string(ch.RouteType), "sent").Inc()
		} else {
			out.FailedCount++
			deliveriesTotal.WithLabelValues(string(ch.RouteType), "failed").Inc()
		}
		out.Responses = append(out.Responses, dr)
	}
	return out, nil
}

func isEligible(ch domain.Channel, m domain.Member) bool {
	if m.Subscriber.Status != domain.SubscriberActive {
		return false
	}
	if m.Subscriber.SubscriptionType != ch.RouteType {
		return false
	}
	return ch.MonetizationType == domain.MonetizationFree || m.SubscriptionStatus == domain.SubscriptionActive
}
