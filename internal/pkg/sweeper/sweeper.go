package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lumenshot/lumenshot/internal/pkg/billing"
	"github.com/lumenshot/lumenshot/internal/pkg/cache"
	"github.com/lumenshot/lumenshot/internal/pkg/metrics"
)

const (
	// DefaultInterval is how often the sweeper looks for lapsed subscriptions.
	DefaultInterval = time.Hour

	leaseKey = "sweeper:expiry:lease"
)

// Reconciler applies the expiry transition for one user.
type Reconciler interface {
	ReconcileExpiry(ctx context.Context, email string) (*billing.Result, error)
}

// UserSource lists users whose entitlement state may have lapsed.
type UserSource interface {
	EmailsNeedingExpiryCheck(now time.Time) ([]string, error)
}

// Manager runs the expiry sweep on a timer. At most one sweep runs per process
// at a time; an optional distributed lease extends that guarantee across
// processes.
type Manager struct {
	source     UserSource
	reconciler Reconciler
	interval   time.Duration
	acquire    func() (bool, error)
	release    func() error
	now        func() time.Time

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	sweepMu  sync.Mutex
	sweeping bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLease installs a custom cross-process lease.
func WithLease(acquire func() (bool, error), release func() error) Option {
	return func(m *Manager) {
		m.acquire = acquire
		m.release = release
	}
}

// WithDistributedLease guards the sweep with a redis SETNX lease so that only
// one instance sweeps when several processes share the store.
func WithDistributedLease() Option {
	return func(m *Manager) {
		m.acquire = func() (bool, error) { return cache.AcquireLock(leaseKey, m.interval/2) }
		m.release = func() error { return cache.ReleaseLock(leaseKey) }
	}
}

// NewManager creates an expiry sweeper.
func NewManager(source UserSource, reconciler Reconciler, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		reconciler: reconciler,
		interval:   DefaultInterval,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the background sweep loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate the stop channel so the manager can be restarted after Stop.
	m.stopCh = make(chan struct{})
	m.running = true
	m.ticker = time.NewTicker(m.interval)

	log.Infof("[Sweeper] Starting expiry sweeper (interval %s)", m.interval)

	m.wg.Add(1)
	go m.loop()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper] Stopping expiry sweeper...")
	m.ticker.Stop()
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
	log.Info("[Sweeper] Stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ticker.C:
			if _, err := m.SweepOnce(context.Background()); err != nil {
				log.Errorf("[Sweeper] sweep failed: %v", err)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stats summarizes one sweep run.
type Stats struct {
	Checked   int
	Corrected int
	Failed    int
	Skipped   bool
}

// SweepOnce runs a single expiry sweep. A failure for one user is logged and
// counted without aborting the rest of the run. Calling it while another sweep
// is in flight returns immediately with Skipped set.
func (m *Manager) SweepOnce(ctx context.Context) (Stats, error) {
	m.sweepMu.Lock()
	if m.sweeping {
		m.sweepMu.Unlock()
		return Stats{Skipped: true}, nil
	}
	m.sweeping = true
	m.sweepMu.Unlock()
	defer func() {
		m.sweepMu.Lock()
		m.sweeping = false
		m.sweepMu.Unlock()
	}()

	if m.acquire != nil {
		got, err := m.acquire()
		if err != nil {
			return Stats{}, err
		}
		if !got {
			log.Debug("[Sweeper] another instance holds the lease, skipping")
			return Stats{Skipped: true}, nil
		}
		defer func() {
			if err := m.release(); err != nil {
				log.Errorf("[Sweeper] releasing lease: %v", err)
			}
		}()
	}

	emails, err := m.source.EmailsNeedingExpiryCheck(m.now())
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Checked: len(emails)}
	for _, email := range emails {
		res, err := m.reconciler.ReconcileExpiry(ctx, email)
		if err != nil {
			stats.Failed++
			metrics.SweepUserErrors.Inc()
			log.Errorf("[Sweeper] reconciling %s: %v", email, err)
			continue
		}
		if res.Kind != billing.ResultNoop {
			stats.Corrected++
			log.Infof("[Sweeper] %s: %s (tier=%s credits=%d quota=%d)",
				email, res.Kind, res.Tier, res.Credits, res.Quota)
		}
	}

	metrics.SweepRuns.Inc()
	if stats.Checked > 0 {
		log.Infof("[Sweeper] sweep done: checked=%d corrected=%d failed=%d",
			stats.Checked, stats.Corrected, stats.Failed)
	}
	return stats, nil
}
