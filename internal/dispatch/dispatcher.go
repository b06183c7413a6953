package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/gateway"
	"github.com/unveil/guest-messaging/internal/metrics"
	"github.com/unveil/guest-messaging/internal/recipient"
)

// Store is the persistence surface the dispatcher needs. ClaimScheduled is
// the single serialization point of the system: a conditional
// scheduled -> sending transition guarded by (id, version). Losers of the
// race get won=false and must make no further writes for that message.
type Store interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]core.ScheduledMessage, error)
	ClaimScheduled(ctx context.Context, id string, expectVersion int64) (won bool, err error)
	FinishScheduled(ctx context.Context, id, status string, success, failure int) error
	CreateMessage(ctx context.Context, m *core.Message) error
	SetMessageCounts(ctx context.Context, id string, delivered, failed int) error
	CreateDeliveries(ctx context.Context, ds []core.MessageDelivery) error
	MarkDelivery(ctx context.Context, id, status string) error
}

type Roster interface {
	GuestsByEvent(ctx context.Context, eventID string) ([]core.Guest, error)
}

type Options struct {
	BatchSize   int           // due messages fetched per tick
	Concurrency int           // parallel gateway sends per message
	SendTimeout time.Duration // per-recipient gateway timeout
	GatewayQPS  float64
	GatewayBurst int
	Channels    []string // delivery channels, default sms only
}

func DefaultOptions() Options {
	return Options{
		BatchSize:    50,
		Concurrency:  8,
		SendTimeout:  5 * time.Second,
		GatewayQPS:   50,
		GatewayBurst: 100,
		Channels:     []string{core.ChannelSMS},
	}
}

// Dispatcher drains due scheduled messages: claim, resolve audience, write
// the Message and per-recipient delivery rows, fan out to the gateway, and
// settle the terminal status. It never holds the sending claim across a
// failure path; a dead gateway resolves the message to failed.
type Dispatcher struct {
	Store   Store
	Roster  Roster
	Gateway gateway.Gateway
	Opt     Options
	Now     func() time.Time
	Log     zerolog.Logger

	limiter *rate.Limiter
	once    sync.Once
}

func New(store Store, roster Roster, gw gateway.Gateway, opt Options, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{Store: store, Roster: roster, Gateway: gw, Opt: opt, Now: time.Now, Log: log}
}

// ProcessDue is the external-trigger entry point: one pass over everything
// due at now. Safe to invoke concurrently and from overlapping ticks; the
// claim transition dedupes the work. Returns how many messages this caller
// actually dispatched.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	d.once.Do(func() {
		d.limiter = rate.NewLimiter(rate.Limit(d.Opt.GatewayQPS), d.Opt.GatewayBurst)
	})

	due, err := d.Store.DueScheduled(ctx, now, d.Opt.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.DueBatchSize.Observe(float64(len(due)))

	processed := 0
	for i := range due {
		sm := due[i]
		won, err := d.Store.ClaimScheduled(ctx, sm.ID, sm.Version)
		if err != nil {
			metrics.ClaimTotal.WithLabelValues("error").Inc()
			d.Log.Error().Err(err).Str("scheduled_message_id", sm.ID).Msg("claim failed")
			continue
		}
		if !won {
			// Another dispatcher got there first; nothing to do.
			metrics.ClaimTotal.WithLabelValues("lost").Inc()
			continue
		}
		metrics.ClaimTotal.WithLabelValues("won").Inc()
		d.dispatchOne(ctx, &sm)
		processed++
	}
	return processed, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sm *core.ScheduledMessage) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	audience, err := d.resolveAudience(ctx, sm)
	if err != nil {
		d.Log.Error().Err(err).Str("scheduled_message_id", sm.ID).Msg("audience resolution failed")
		_ = d.Store.FinishScheduled(ctx, sm.ID, core.StatusFailed, 0, 0)
		return
	}

	now := d.Now()
	msg := &core.Message{
		ID:                 uuid.NewString(),
		EventID:            sm.EventID,
		Content:            sm.Content,
		MessageType:        sm.MessageType,
		ScheduledMessageID: &sm.ID,
		CreatedAt:          now,
		SentAt:             &now,
	}
	if err := d.Store.CreateMessage(ctx, msg); err != nil {
		d.Log.Error().Err(err).Str("scheduled_message_id", sm.ID).Msg("message insert failed")
		_ = d.Store.FinishScheduled(ctx, sm.ID, core.StatusFailed, 0, 0)
		return
	}

	deliveries := make([]core.MessageDelivery, 0, len(audience)*len(d.Opt.Channels))
	for _, ref := range audience {
		for _, ch := range d.Opt.Channels {
			deliveries = append(deliveries, core.MessageDelivery{
				ID:            uuid.NewString(),
				MessageID:     msg.ID,
				GuestID:       ref.ID,
				PhoneSnapshot: ref.Phone,
				Channel:       ch,
				Status:        core.DeliveryPending,
				CreatedAt:     now,
			})
		}
	}
	if err := d.Store.CreateDeliveries(ctx, deliveries); err != nil {
		d.Log.Error().Err(err).Str("scheduled_message_id", sm.ID).Msg("delivery insert failed")
		_ = d.Store.FinishScheduled(ctx, sm.ID, core.StatusFailed, 0, 0)
		return
	}

	success, failure := d.fanOut(ctx, sm.Content, deliveries)
	_ = d.Store.SetMessageCounts(ctx, msg.ID, success, failure)

	// Partial failure is still terminal sent; failed means nothing got out.
	status := core.StatusSent
	if success == 0 && failure > 0 {
		status = core.StatusFailed
	}
	if err := d.Store.FinishScheduled(ctx, sm.ID, status, success, failure); err != nil {
		d.Log.Error().Err(err).Str("scheduled_message_id", sm.ID).Msg("finish failed")
		return
	}
	d.Log.Info().
		Str("scheduled_message_id", sm.ID).
		Str("message_id", msg.ID).
		Int("delivered", success).
		Int("failed", failure).
		Str("status", status).
		Msg("dispatched")
}

// fanOut submits every delivery to the gateway under the process-wide rate
// limit and records each terminal delivery status.
func (d *Dispatcher) fanOut(ctx context.Context, content string, deliveries []core.MessageDelivery) (success, failure int) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.Opt.Concurrency)

	for i := range deliveries {
		del := deliveries[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ok := d.sendOne(ctx, del, content)
			mu.Lock()
			if ok {
				success++
			} else {
				failure++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return success, failure
}

func (d *Dispatcher) sendOne(ctx context.Context, del core.MessageDelivery, content string) bool {
	if err := d.limiter.Wait(ctx); err != nil {
		_ = d.Store.MarkDelivery(ctx, del.ID, core.DeliveryFailed)
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, d.Opt.SendTimeout)
	defer cancel()

	start := time.Now()
	res := d.Gateway.Send(cctx, del.PhoneSnapshot, content, del.Channel)
	metrics.GatewaySendDuration.Observe(time.Since(start).Seconds())

	if !res.Accepted {
		metrics.GatewaySendTotal.WithLabelValues("rejected").Inc()
		_ = d.Store.MarkDelivery(ctx, del.ID, core.DeliveryFailed)
		return false
	}
	metrics.GatewaySendTotal.WithLabelValues("accepted").Inc()
	_ = d.Store.MarkDelivery(ctx, del.ID, core.DeliveryDelivered)
	return true
}

// resolveAudience applies the snapshot rule: explicit selections keep the
// guest IDs captured at schedule time (contactability is still re-checked),
// everything else re-resolves against the live roster so a guest added after
// scheduling is included and a removed one is excluded.
func (d *Dispatcher) resolveAudience(ctx context.Context, sm *core.ScheduledMessage) ([]core.GuestRef, error) {
	roster, err := d.Roster.GuestsByEvent(ctx, sm.EventID)
	if err != nil {
		return nil, err
	}
	f := sm.Filter
	if f.Explicit() {
		f = core.RecipientFilter{Kind: core.FilterExplicit, GuestIDs: sm.RecipientIDs}
	}
	return recipient.Resolve(roster, f).Contactable, nil
}

// Run drives ProcessDue from a ticker until ctx is cancelled. DB errors back
// off exponentially with jitter instead of hot-looping.
func (d *Dispatcher) Run(ctx context.Context, tick time.Duration) error {
	const backoffMax = 30 * time.Second
	backoff := tick

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if _, err := d.ProcessDue(ctx, d.Now()); err != nil {
			sleep := jitter(backoff, 0.20)
			d.Log.Warn().Err(err).Dur("backoff", sleep).Msg("dispatch pass failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			if backoff < backoffMax {
				backoff = time.Duration(float64(backoff) * 1.6)
			}
			continue
		}
		backoff = tick
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(n)
}
