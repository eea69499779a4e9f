package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/reconcile"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 60 * time.Minute
	MinPollInterval     = 15 * time.Minute
	MaxPollInterval     = 1440 * time.Minute

	maxSnapshots = 256
)

// ErrUpdateFailed is returned when a cycle could not make any progress.
var ErrUpdateFailed = errors.New("update failed")

// Client is the SmartHub API surface an update cycle uses.
type Client interface {
	reconcile.UsageFetcher
	ServiceLocations(ctx context.Context) ([]types.ServiceLocation, error)
	RefreshAuthentication(ctx context.Context) error
	InvalidateToken()
	AccountID() string
	Location() *time.Location
}

// Reconciler appends a location's new hourly usage to its series.
type Reconciler interface {
	Reconcile(ctx context.Context, loc types.ServiceLocation) (reconcile.Result, error)
}

// Publisher receives the sensor states after every cycle.
type Publisher interface {
	Publish(ctx context.Context, states []types.SensorState) error
}

// Coordinator runs update cycles: it resolves the account's locations,
// reconciles each location's history and refreshes its month-to-date value.
type Coordinator struct {
	client     Client
	reconciler Reconciler
	publisher  Publisher

	pollInterval time.Duration
	concurrency  int
	now          func() time.Time

	// cycle serializes Update
	cycle sync.Mutex

	mu          sync.RWMutex
	snapshots   *expirable.LRU[string, types.Snapshot]
	locations   []types.ServiceLocation
	lastSuccess bool
}

// Options tune a Coordinator. Zero values take the defaults.
type Options struct {
	PollInterval time.Duration
	Concurrency  int
}

// New returns a Coordinator. publisher may be nil.
func New(client Client, reconciler Reconciler, publisher Publisher, opts Options) (*Coordinator, error) {
	c := &Coordinator{
		client:     client,
		reconciler: reconciler,
		publisher:  publisher,
		now:        time.Now,
	}
	if err := c.init(opts); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Coordinator) init(opts Options) error {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollInterval < MinPollInterval || opts.PollInterval > MaxPollInterval {
		return fmt.Errorf("poll interval %s must be between %s and %s", opts.PollInterval, MinPollInterval, MaxPollInterval)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	c.pollInterval = opts.PollInterval
	c.concurrency = opts.Concurrency
	// snapshots outlive one missed cycle
	c.snapshots = expirable.NewLRU[string, types.Snapshot](maxSnapshots, nil, 2*opts.PollInterval)
	return nil
}

// Configured builds the Coordinator from flags. The reconciliation engine is
// created once the client's flags are parsed.
func Configured(client Client, store reconcile.Store, publisher Publisher) *Coordinator {
	c := &Coordinator{
		client:    client,
		publisher: publisher,
		now:       time.Now,
	}

	pollInterval := lflag.Duration("poll-interval", DefaultPollInterval, "How often to run an update cycle (15m to 24h)")
	concurrency := 1
	lflag.JSON(&concurrency, "location-concurrency", concurrency, "How many locations to update at once")

	lflag.Do(func() {
		if err := c.init(Options{PollInterval: *pollInterval, Concurrency: concurrency}); err != nil {
			panic(fmt.Sprintf("invalid coordinator config: %v", err))
		}
		c.reconciler = reconcile.New(client, store, client.AccountID(), client.Location())
	})

	return c
}

// PollInterval is the interval update cycles should be scheduled at.
func (c *Coordinator) PollInterval() time.Duration {
	return c.pollInterval
}

// RefreshAuthentication replaces the current token with a fresh one.
func (c *Coordinator) RefreshAuthentication(ctx context.Context) error {
	if err := c.client.RefreshAuthentication(ctx); err != nil {
		return fmt.Errorf("failed to refresh authentication: %w", err)
	}
	return nil
}

// Update runs one cycle and returns the resulting sensor states. Only one
// cycle runs at a time; a concurrent call waits for the running one. A
// failure of one location is logged and does not stop the others. The cycle
// fails with ErrUpdateFailed when the locations could not be resolved or none
// of them could be updated.
func (c *Coordinator) Update(ctx context.Context) ([]types.SensorState, error) {
	c.cycle.Lock()
	defer c.cycle.Unlock()

	start := c.now()
	err := c.update(ctx)

	c.mu.Lock()
	c.lastSuccess = err == nil
	c.mu.Unlock()

	states := c.Sensors()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "update cycle failed", slog.Any("error", err), slog.Duration("took", c.now().Sub(start)))
	} else {
		log.Ctx(ctx).InfoContext(ctx, "update cycle finished", slog.Int("locations", len(states)), slog.Duration("took", c.now().Sub(start)))
	}

	if c.publisher != nil && len(states) > 0 {
		if perr := c.publisher.Publish(ctx, states); perr != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish sensor states", slog.Any("error", perr))
		}
	}
	return states, err
}

func (c *Coordinator) update(ctx context.Context) error {
	// a token is never reused across cycles
	c.client.InvalidateToken()

	locations, err := c.client.ServiceLocations(ctx)
	if err != nil {
		return errors.Join(ErrUpdateFailed, fmt.Errorf("failed to resolve service locations: %w", err))
	}
	if len(locations) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no supported service locations found")
	}

	snapshots := make([]*types.Snapshot, len(locations))
	errs := make([]error, len(locations))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, loc := range locations {
		eg.Go(func() error {
			snap, err := c.updateLocation(egCtx, loc)
			if err != nil {
				log.Ctx(egCtx).ErrorContext(
					egCtx,
					"failed to update location",
					slog.String("locationID", loc.ID),
					slog.Any("error", err),
				)
				errs[i] = fmt.Errorf("location %s: %w", loc.ID, err)
				return nil
			}
			snapshots[i] = &snap
			return nil
		})
	}
	// errors are collected per location
	_ = eg.Wait()

	c.mu.Lock()
	c.locations = locations
	c.mu.Unlock()

	var updated int
	for _, s := range snapshots {
		if s != nil {
			updated++
			c.snapshots.Add(s.Location.ID, *s)
		}
	}
	if len(locations) > 0 && updated == 0 {
		return errors.Join(append([]error{ErrUpdateFailed}, errs...)...)
	}
	return nil
}

func (c *Coordinator) updateLocation(ctx context.Context, loc types.ServiceLocation) (types.Snapshot, error) {
	if _, err := c.reconciler.Reconcile(ctx, loc); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to reconcile statistics: %w", err)
	}
	return c.currentValue(ctx, loc)
}

// currentValue fetches the month-to-date usage of loc. Without data it keeps
// the previous snapshot.
func (c *Coordinator) currentValue(ctx context.Context, loc types.ServiceLocation) (types.Snapshot, error) {
	now := c.now().In(c.client.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	data, err := c.client.EnergyData(ctx, loc, &monthStart, types.AggregationMonthly)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to fetch monthly usage: %w", err)
	}

	last, ok := data.Last()
	if !data.Found || !ok {
		log.Ctx(ctx).WarnContext(ctx, "no monthly usage returned", slog.String("locationID", loc.ID))
		if prev, ok := c.snapshots.Get(loc.ID); ok {
			return prev, nil
		}
		return types.Snapshot{
			AccountID: c.client.AccountID(),
			Location:  loc,
			UpdatedAt: c.now(),
		}, nil
	}

	value := last.Consumption
	return types.Snapshot{
		AccountID:       c.client.AccountID(),
		Location:        loc,
		CurrentValue:    &value,
		LastReadingTime: last.ReadingTime,
		UpdatedAt:       c.now(),
	}, nil
}

// Sensors returns the state of every location seen by the last cycle. A
// location is available when the last cycle succeeded and it has a value.
func (c *Coordinator) Sensors() []types.SensorState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make([]types.SensorState, 0, len(c.locations))
	for _, loc := range c.locations {
		snap, ok := c.snapshots.Get(loc.ID)
		if !ok {
			snap = types.Snapshot{AccountID: c.client.AccountID(), Location: loc}
		}
		states = append(states, types.SensorState{
			Snapshot:    snap,
			StatisticID: types.StatisticID(c.client.AccountID(), loc.ID),
			Available:   c.lastSuccess && snap.CurrentValue != nil,
		})
	}
	return states
}
