package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/parley-chat/backend/internal/metrics"
	"github.com/parley-chat/backend/internal/models"
	"github.com/parley-chat/backend/internal/store"
)

// DefaultDispatchSchedule runs a dispatch cycle every minute.
const DefaultDispatchSchedule = "* * * * *"

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	Due        int
	Dispatched int
	Failed     int
	Pending    int
	Malformed  int
	// LeaseDenied is set when another replica holds the dispatch lease.
	LeaseDenied bool
}

// Dispatcher turns due deferred messages into chat messages. It knows
// nothing about how the due set was found, so any trigger can drive it.
type Dispatcher struct {
	db   store.Store
	chat *ChatLog
}

// NewDispatcher creates a Dispatcher writing to db.
func NewDispatcher(db store.Store, chat *ChatLog) *Dispatcher {
	return &Dispatcher{db: db, chat: chat}
}

// Dispatch appends each record to its room stamped with now, then
// removes the record. A failure on one record is logged and the rest
// are still attempted. When the removal fails after a successful
// append, the record stays pending and is sent again next cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time, due []models.DeferredMessage) DispatchResult {
	res := DispatchResult{Due: len(due)}
	for i, rec := range due {
		if err := ctx.Err(); err != nil {
			log.Printf("[Scheduler] Stopping dispatch with %d records left: %v", len(due)-i, err)
			break
		}
		msg := models.Message{Text: rec.Text, From: rec.OwnerUID, Timestamp: now.UnixMilli()}
		if _, err := d.chat.Append(ctx, rec.ChatID, msg); err != nil {
			log.Printf("[Scheduler] Failed to dispatch %s to chat %s: %v", rec.ID, rec.ChatID, err)
			res.Failed++
			continue
		}
		if err := d.db.Remove(ctx, scheduledPath(rec.OwnerUID, rec.ID)); err != nil {
			log.Printf("[Scheduler] Dispatched %s but failed to remove it, will resend: %v", rec.ID, err)
			res.Failed++
			continue
		}
		log.Printf("[Scheduler] Dispatched msg %s to chat %s", rec.ID, rec.ChatID)
		res.Dispatched++
	}
	return res
}

// Lease gates dispatch cycles across replicas.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
}

// Scheduler periodically scans the pending collection and dispatches
// what is due. Cycles on one instance never overlap.
type Scheduler struct {
	db         store.Store
	dispatcher *Dispatcher
	schedule   string
	lease      Lease
	leaseTTL   time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLease makes every cycle acquire l first. When ttl is positive the
// lease is renewed every ttl/3 while the cycle runs, and a failed renewal
// cancels the rest of the cycle.
func WithLease(l Lease, ttl time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.lease = l
		s.leaseTTL = ttl
	}
}

// WithMetrics records cycle outcomes on m.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler firing on the cron expression schedule.
func NewScheduler(db store.Store, dispatcher *Dispatcher, schedule string, opts ...SchedulerOption) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultDispatchSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid dispatch schedule: %q", schedule)
	}
	s := &Scheduler{
		db:         db,
		dispatcher: dispatcher,
		schedule:   schedule,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start runs cycles on every schedule tick until Stop is called or ctx
// is done. Call it with 'go'.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[Scheduler] Started (schedule: %q)", s.schedule)

	for {
		next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
		if err != nil {
			log.Printf("[Scheduler] Failed to compute next tick: %v", err)
			return
		}

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-timer.C:
			if _, err := s.RunCycle(ctx); err != nil {
				log.Printf("[Scheduler] Cycle aborted: %v", err)
			}
		case <-s.stopChan:
			timer.Stop()
			log.Println("[Scheduler] Stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			log.Println("[Scheduler] Stopped")
			return
		}
	}
}

// Stop ends the Start loop after any in-flight cycle.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// RunCycle performs one dispatch cycle. The cutoff is the time the cycle
// started; a failed snapshot read aborts only this cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (DispatchResult, error) {
	started := s.now()

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.ObserveCycle(metrics.CycleLeaseError, 0, 0, 0, time.Since(started))
			return DispatchResult{}, fmt.Errorf("dispatch lease: %w", err)
		}
		if !ok {
			s.metrics.ObserveCycle(metrics.CycleLeaseDenied, 0, 0, 0, time.Since(started))
			return DispatchResult{LeaseDenied: true}, nil
		}
		if s.leaseTTL > 0 {
			held, release := s.holdLease(ctx)
			defer release()
			ctx = held
		}
	}

	raw, err := s.db.Get(ctx, scheduledRoot)
	if err != nil {
		s.metrics.ObserveCycle(metrics.CycleReadFailed, 0, 0, 0, time.Since(started))
		return DispatchResult{}, fmt.Errorf("failed to read scheduled messages: %w", err)
	}

	due, pending, malformed := partitionDue(raw, started)
	res := s.dispatcher.Dispatch(ctx, started, due)
	res.Pending = pending
	res.Malformed = malformed

	if res.Due > 0 || res.Malformed > 0 {
		log.Printf("[Scheduler] Cycle: %d due, %d dispatched, %d failed, %d pending, %d malformed",
			res.Due, res.Dispatched, res.Failed, res.Pending, res.Malformed)
	}
	s.metrics.ObserveCycle(metrics.CycleOK, res.Dispatched, res.Failed, res.Malformed, time.Since(started))
	return res, nil
}

// holdLease renews the lease in the background until release is called.
// The returned context is cancelled as soon as a renewal fails.
func (s *Scheduler) holdLease(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.leaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.lease.Acquire(ctx)
				if ctx.Err() != nil {
					return
				}
				if err != nil || !ok {
					log.Printf("[Scheduler] Lost dispatch lease mid-cycle (err: %v)", err)
					cancel()
					return
				}
			}
		}
	}()

	return ctx, func() {
		cancel()
		<-done
	}
}

// partitionDue splits the pending snapshot into records due at cutoff
// and a count of those that are not. Undecodable records are skipped.
func partitionDue(raw json.RawMessage, cutoff time.Time) ([]models.DeferredMessage, int, int) {
	if isNull(raw) {
		return nil, 0, 0
	}
	var owners map[string]json.RawMessage
	if err := json.Unmarshal(raw, &owners); err != nil {
		log.Printf("[Scheduler] Pending collection is not an object: %v", err)
		return nil, 0, 1
	}

	cutoffMs := cutoff.UnixMilli()
	var due []models.DeferredMessage
	pending, malformed := 0, 0
	for owner, ownerRaw := range owners {
		var records map[string]json.RawMessage
		if err := json.Unmarshal(ownerRaw, &records); err != nil {
			log.Printf("[Scheduler] Skipping malformed owner %s: %v", owner, err)
			malformed++
			continue
		}
		for id, recRaw := range records {
			rec, err := decodeDeferred(owner, id, recRaw)
			if err != nil {
				log.Printf("[Scheduler] Skipping malformed record %s/%s: %v", owner, id, err)
				malformed++
				continue
			}
			if rec.ScheduledAt <= cutoffMs {
				due = append(due, rec)
			} else {
				pending++
			}
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt != due[j].ScheduledAt {
			return due[i].ScheduledAt < due[j].ScheduledAt
		}
		return due[i].ID < due[j].ID
	})
	return due, pending, malformed
}
