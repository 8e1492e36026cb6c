package service

import (
	"context"
	"log"
	"sync"
	"time"

	"fulfillsync/internal/marketplace"
	"fulfillsync/internal/repository"
)

// SyncConfig holds polling loop settings.
type SyncConfig struct {
	// Interval is the default cycle interval. Default: 120s.
	Interval time.Duration

	// MaxInterval caps the backoff. Default: 600s.
	MaxInterval time.Duration

	// Lookback pads the fetch window behind the cursor to absorb clock
	// skew between us and the marketplace.
	Lookback time.Duration
}

// SyncService is the polling loop: it pulls updated orders from the
// feed, upserts them, drives assignment and movement posting, and backs
// off exponentially while cycles keep failing.
type SyncService struct {
	feed     marketplace.Feed
	repo     repository.OrderRepository
	assigner *AssignmentService
	mover    *MovementService
	config   SyncConfig

	cursor   time.Time
	knownIDs map[string]struct{}

	current   time.Duration
	runNowCh  chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// NewSyncService creates the polling loop.
// Returns nil if any required dependency is nil.
func NewSyncService(
	feed marketplace.Feed,
	repo repository.OrderRepository,
	assigner *AssignmentService,
	mover *MovementService,
	config SyncConfig,
) *SyncService {
	if feed == nil || repo == nil || assigner == nil || mover == nil {
		return nil
	}
	if config.Interval == 0 {
		config.Interval = 120 * time.Second
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 600 * time.Second
	}
	if config.Lookback == 0 {
		config.Lookback = 5 * time.Minute
	}
	return &SyncService{
		feed:     feed,
		repo:     repo,
		assigner: assigner,
		mover:    mover,
		config:   config,
		knownIDs: make(map[string]struct{}),
		current:  config.Interval,
		runNowCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the polling loop.
func (s *SyncService) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	log.Printf("[Sync] Started - interval: %v, cap: %v", s.config.Interval, s.config.MaxInterval)
	go s.run()
}

// run is the main polling loop. Backoff doubles the interval after a
// failed cycle up to the cap; one successful cycle resets it.
func (s *SyncService) run() {
	defer close(s.doneCh)

	timer := time.NewTimer(0) // first cycle immediately
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-s.runNowCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-s.stopCh:
			log.Printf("[Sync] Stopped")
			return
		}

		err := s.RunCycle(context.Background())
		s.current = nextInterval(s.current, s.config.Interval, s.config.MaxInterval, err != nil)
		if err != nil {
			log.Printf("[Sync] Cycle failed: %v (next attempt in %v)", err, s.current)
		}
		timer.Reset(s.current)
	}
}

// nextInterval implements backoff with reset-on-success.
func nextInterval(current, base, max time.Duration, failed bool) time.Duration {
	if !failed {
		return base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// RunNow requests an immediate cycle without waiting for the timer.
func (s *SyncService) RunNow() {
	select {
	case s.runNowCh <- struct{}{}:
	default:
	}
}

// Stop requests a cooperative stop and waits for any in-flight cycle to
// finish before returning.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// RunCycle executes one full sync cycle: fetch, upsert, assign, post
// movements, diff for newly appeared orders. Any error aborts the
// cycle; the cursor only advances on full success.
func (s *SyncService) RunCycle(ctx context.Context) error {
	cycleStart := time.Now().UTC()

	from := s.cursor
	if from.IsZero() {
		from = cycleStart.Add(-24 * time.Hour)
	} else {
		from = from.Add(-s.config.Lookback)
	}

	orders, err := s.feed.FetchOrders(ctx, from, cycleStart)
	if err != nil {
		return err
	}
	log.Printf("[Sync] Fetched %d orders updated since %v", len(orders), from.Format(time.RFC3339))

	for i := range orders {
		if err := s.repo.Upsert(ctx, &orders[i]); err != nil {
			return err
		}
	}

	pending, err := s.repo.ListPendingAssignment(ctx)
	if err != nil {
		return err
	}
	for _, group := range GroupByPack(pending) {
		if _, err := s.assigner.Assign(ctx, group); err != nil {
			return err
		}
	}

	toMove, err := s.repo.ListAssignedWithoutMovement(ctx)
	if err != nil {
		return err
	}
	for _, order := range toMove {
		if _, err := s.mover.Post(ctx, order); err != nil {
			return err
		}
	}

	// Informational: surface orders that appeared since the last cycle.
	fresh := 0
	for _, order := range orders {
		if _, known := s.knownIDs[order.ExternalID]; !known {
			s.knownIDs[order.ExternalID] = struct{}{}
			log.Printf("[Sync] New order %s (%s)", order.ExternalID, order.Status)
			fresh++
		}
	}
	if fresh > 0 {
		log.Printf("[Sync] %d new orders this cycle", fresh)
	}

	s.cursor = cycleStart
	return nil
}
