package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unveil/guest-messaging/internal/core"
	"github.com/unveil/guest-messaging/internal/recipient"
)

// ErrDuplicateKey is returned by Store.CreateScheduled when the
// (event_id, idempotency_key) unique constraint trips; the engine resolves
// it by returning the existing row.
var ErrDuplicateKey = errors.New("duplicate_idempotency_key")

// Store is the persistence surface the engine needs. UpdateScheduled must be
// a conditional write: it applies sm only when the stored row still carries
// expectVersion and status=scheduled, and reports whether it won.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, eventID, key string) (*core.ScheduledMessage, error)
	CreateScheduled(ctx context.Context, sm *core.ScheduledMessage) error
	GetScheduled(ctx context.Context, id string) (*core.ScheduledMessage, error)
	ListScheduledByEvent(ctx context.Context, eventID string) ([]core.ScheduledMessage, error)
	UpdateScheduled(ctx context.Context, sm *core.ScheduledMessage, expectVersion int64) (bool, error)
}

// Roster supplies the current guest list for an event. Reads only.
type Roster interface {
	GuestsByEvent(ctx context.Context, eventID string) ([]core.Guest, error)
}

// Engine owns the host-facing scheduled-message lifecycle: create with
// idempotent replay, modify and cancel under the freeze window. Dispatch-side
// transitions live in the dispatch package.
type Engine struct {
	Store        Store
	Roster       Roster
	Now          func() time.Time
	MinLeadTime  time.Duration
	FreezeWindow time.Duration
}

const (
	DefaultMinLeadTime  = 5 * time.Minute
	DefaultFreezeWindow = 60 * time.Second
)

func NewEngine(store Store, roster Roster) *Engine {
	return &Engine{
		Store:        store,
		Roster:       roster,
		Now:          time.Now,
		MinLeadTime:  DefaultMinLeadTime,
		FreezeWindow: DefaultFreezeWindow,
	}
}

type CreateRequest struct {
	EventID     string
	Content     string
	MessageType string
	Filter      core.RecipientFilter
	Date        string // 2006-01-02, event-local
	Clock       string // 15:04, event-local
	Timezone    string // IANA id
}

// Create validates and persists a new scheduled message. A replayed request
// (same event, audience, content, local time) returns the existing
// non-terminal row with existing=true instead of creating a duplicate.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (sm *core.ScheduledMessage, existing bool, err error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, false, core.ErrEmptyContent
	}
	sendAt, err := ToUTC(req.Date, req.Clock, req.Timezone)
	if err != nil {
		return nil, false, err
	}
	now := e.Now()
	if !sendAt.After(now.Add(e.MinLeadTime)) {
		return nil, false, fmt.Errorf("%w: need at least %s of lead time", core.ErrLeadTimeTooShort, e.MinLeadTime)
	}

	roster, err := e.Roster.GuestsByEvent(ctx, req.EventID)
	if err != nil {
		return nil, false, err
	}
	res := recipient.Resolve(roster, req.Filter)
	ids := make([]string, len(res.Contactable))
	for i, r := range res.Contactable {
		ids[i] = r.ID
	}

	local := req.Date + " " + req.Clock
	key := IdempotencyKey(req.EventID, ids, content, local, req.Timezone)

	if prev, err := e.Store.FindByIdempotencyKey(ctx, req.EventID, key); err == nil && !core.IsTerminal(prev.Status) {
		return prev, true, nil
	} else if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}

	sm = &core.ScheduledMessage{
		ID:             uuid.NewString(),
		EventID:        req.EventID,
		Content:        content,
		MessageType:    req.MessageType,
		Filter:         req.Filter,
		RecipientIDs:   ids,
		SendAt:         sendAt,
		ScheduledTZ:    req.Timezone,
		ScheduledLocal: local,
		IdempotencyKey: key,
		Status:         core.StatusScheduled,
		RecipientCount: len(ids),
		Version:        1,
		CreatedAt:      now,
		ModifiedAt:     now,
	}
	if err := e.Store.CreateScheduled(ctx, sm); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// Lost an insert race against an identical request; hand back
			// the winner's row.
			if prev, ferr := e.Store.FindByIdempotencyKey(ctx, req.EventID, key); ferr == nil {
				return prev, true, nil
			}
		}
		return nil, false, err
	}
	return sm, false, nil
}

type ModifyRequest struct {
	Content     *string
	MessageType *string
	Filter      *core.RecipientFilter
	Date        *string
	Clock       *string
	Timezone    *string
}

// Modify edits a still-scheduled message. Rejected once the send is inside
// minLeadTime+freezeWindow, or if the dispatcher has already claimed it.
func (e *Engine) Modify(ctx context.Context, id string, req ModifyRequest) (*core.ScheduledMessage, error) {
	sm, err := e.Store.GetScheduled(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.guardMutable(sm); err != nil {
		return nil, err
	}

	timeChanged := req.Date != nil || req.Clock != nil || req.Timezone != nil
	if timeChanged {
		date, clock, tz := localParts(sm)
		if req.Date != nil {
			date = *req.Date
		}
		if req.Clock != nil {
			clock = *req.Clock
		}
		if req.Timezone != nil {
			tz = *req.Timezone
		}
		sendAt, err := ToUTC(date, clock, tz)
		if err != nil {
			return nil, err
		}
		if !sendAt.After(e.Now().Add(e.MinLeadTime)) {
			return nil, fmt.Errorf("%w: need at least %s of lead time", core.ErrLeadTimeTooShort, e.MinLeadTime)
		}
		sm.SendAt = sendAt
		sm.ScheduledTZ = tz
		sm.ScheduledLocal = date + " " + clock
	}
	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			return nil, core.ErrEmptyContent
		}
		sm.Content = content
	}
	if req.MessageType != nil {
		sm.MessageType = *req.MessageType
	}
	if req.Filter != nil {
		sm.Filter = *req.Filter
	}

	if req.Filter != nil || timeChanged {
		roster, err := e.Roster.GuestsByEvent(ctx, sm.EventID)
		if err != nil {
			return nil, err
		}
		res := recipient.Resolve(roster, sm.Filter)
		ids := make([]string, len(res.Contactable))
		for i, r := range res.Contactable {
			ids[i] = r.ID
		}
		sm.RecipientIDs = ids
		sm.RecipientCount = len(ids)
	}

	expect := sm.Version
	sm.ModificationCount++
	sm.Version = expect + 1
	sm.ModifiedAt = e.Now()
	won, err := e.Store.UpdateScheduled(ctx, sm, expect)
	if err != nil {
		return nil, err
	}
	if !won {
		// Version moved under us: a concurrent edit or a dispatcher claim.
		return nil, core.ErrTooCloseToSend
	}
	return sm, nil
}

// Cancel transitions scheduled -> cancelled under the same freeze-window
// guard as Modify. A message whose claim the dispatcher has already won
// fails the conditional update and is reported as too close to send.
func (e *Engine) Cancel(ctx context.Context, id string) (*core.ScheduledMessage, error) {
	sm, err := e.Store.GetScheduled(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.guardMutable(sm); err != nil {
		return nil, err
	}

	expect := sm.Version
	sm.Status = core.StatusCancelled
	sm.Version = expect + 1
	sm.ModifiedAt = e.Now()
	won, err := e.Store.UpdateScheduled(ctx, sm, expect)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, core.ErrTooCloseToSend
	}
	return sm, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*core.ScheduledMessage, error) {
	return e.Store.GetScheduled(ctx, id)
}

func (e *Engine) ListByEvent(ctx context.Context, eventID string) ([]core.ScheduledMessage, error) {
	return e.Store.ListScheduledByEvent(ctx, eventID)
}

// localParts splits the stored display wall clock back into request fields
// so a partial time edit can reuse the untouched components.
func localParts(sm *core.ScheduledMessage) (date, clock, tz string) {
	date, clock, _ = strings.Cut(sm.ScheduledLocal, " ")
	return date, clock, sm.ScheduledTZ
}

func (e *Engine) guardMutable(sm *core.ScheduledMessage) error {
	if core.IsTerminal(sm.Status) {
		return fmt.Errorf("%w: status is %s", core.ErrAlreadyTerminal, sm.Status)
	}
	if sm.Status == core.StatusSending {
		return fmt.Errorf("%w: dispatch in progress", core.ErrTooCloseToSend)
	}
	if !sm.SendAt.After(e.Now().Add(e.MinLeadTime + e.FreezeWindow)) {
		return fmt.Errorf("%w: inside the freeze window", core.ErrTooCloseToSend)
	}
	return nil
}
