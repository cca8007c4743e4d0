package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	defaultFeedLifetime  = 10 * time.Minute
	defaultSweepInterval = time.Second
)

var (
	errMissingFeedService = errors.New("feed: notification service is required")
	errMissingFeedUser    = errors.New("feed: user identifier is required")
	errFeedAlreadyStarted = errors.New("feed: already started")
)

// FeedItem is the ephemeral, client-side projection of a notification. It
// lives only in the feed's memory and disappears once its age exceeds the
// configured lifetime; the underlying row is untouched.
type FeedItem struct {
	ID        string
	Message   string
	Timestamp time.Time
}

// FeedConfig describes one live-feed session.
type FeedConfig struct {
	Service       *Service
	UserID        string
	Lifetime      time.Duration
	SweepInterval time.Duration
	Clock         func() time.Time
}

// Feed is the per-session live notification view. On Start it marks stored
// notifications read, seeds the visible list from ListRecent, and subscribes
// to the push channel. A single goroutine owns the visible list: pushed
// events and the expiry sweep are handled on the same loop, so neither can
// block the other.
type Feed struct {
	service  *Service
	userID   string
	lifetime time.Duration
	sweep    time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	visible []FeedItem
	seen    map[string]struct{}

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewFeed constructs a feed session. It does nothing until Start is called.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.Service == nil {
		return nil, errMissingFeedService
	}
	if cfg.UserID == "" {
		return nil, errMissingFeedUser
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = defaultFeedLifetime
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Feed{
		service:  cfg.Service,
		userID:   cfg.UserID,
		lifetime: lifetime,
		sweep:    sweep,
		clock:    clock,
		seen:     make(map[string]struct{}),
	}, nil
}

// Start opens the subscription, marks stored notifications read, and seeds
// the visible list. The subscription is opened before the backfill query so
// no event can fall between the two; duplicates across the race are dropped
// by id.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return errFeedAlreadyStarted
	}
	f.started = true
	f.mu.Unlock()

	feedCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	stream, cleanup := f.service.Subscribe(feedCtx, f.userID)

	if err := f.service.MarkAllRead(feedCtx, f.userID); err != nil {
		cleanup()
		cancel()
		close(f.done)
		return err
	}

	since := f.clock().UTC().Add(-f.lifetime)
	backfill, err := f.service.ListRecent(feedCtx, f.userID, since)
	if err != nil {
		cleanup()
		cancel()
		close(f.done)
		return err
	}
	if feedCtx.Err() == nil {
		for _, n := range backfill {
			f.insert(n)
		}
	}

	go f.run(feedCtx, stream, cleanup)
	return nil
}

func (f *Feed) run(ctx context.Context, stream <-chan Notification, cleanup func()) {
	defer close(f.done)
	defer cleanup()

	ticker := time.NewTicker(f.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-stream:
			if !ok {
				return
			}
			f.insert(n)
		case <-ticker.C:
			f.expire()
		}
	}
}

// insert appends the notification to the visible list unless its id was
// already delivered through the other path. Ordering is newest first by
// creation time, not by arrival order.
func (f *Feed) insert(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[n.ID]; ok {
		return
	}
	f.seen[n.ID] = struct{}{}
	f.visible = append(f.visible, FeedItem{
		ID:        n.ID,
		Message:   n.Message(),
		Timestamp: n.CreatedAt,
	})
	sort.SliceStable(f.visible, func(i, j int) bool {
		return f.visible[i].Timestamp.After(f.visible[j].Timestamp)
	})
}

// expire drops items older than the lifetime from the visible list. Display
// only: stored rows remain queryable through ListRecent.
func (f *Feed) expire() {
	now := f.clock().UTC()
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.visible[:0]
	for _, item := range f.visible {
		if now.Sub(item.Timestamp) < f.lifetime {
			kept = append(kept, item)
		}
	}
	f.visible = kept
}

// Snapshot returns a copy of the currently visible items, newest first.
func (f *Feed) Snapshot() []FeedItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]FeedItem, len(f.visible))
	copy(items, f.visible)
	return items
}

// Close cancels the subscription and the sweep loop and waits for the loop
// goroutine to exit. Safe to call once after a successful Start.
func (f *Feed) Close() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}
