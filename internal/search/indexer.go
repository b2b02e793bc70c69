package search

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Loader reads the store of record. The indexer always re-reads an agent's
// current state before applying, so a queued update is "converge agent X",
// not a payload — replays and reorders across agents are harmless.
type Loader interface {
	LoadView(ctx context.Context, agentID uuid.UUID) (*model.AgentView, error)
	AllViews(ctx context.Context, fn func(*model.AgentView) error) error
}

// RepairLog is the durable parking lot for updates that exhausted their
// retries. The reconciler drains it.
type RepairLog interface {
	Park(ctx context.Context, agentID uuid.UUID, reason string, attempts int) error
	Pending(ctx context.Context, limit int) ([]uuid.UUID, error)
	Resolve(ctx context.Context, agentID uuid.UUID) error
	Count(ctx context.Context) (int, error)
}

// Config tunes the async pipeline. Zero values take the defaults.
type Config struct {
	Workers         int           // concurrent appliers (default 4)
	QueueCap        int           // total queued updates before Reserve blocks (default 1024)
	EnqueueTimeout  time.Duration // how long Reserve waits for a slot (default 500ms)
	StalenessBudget time.Duration // target enqueue-to-applied lag (default 2s)
	MaxAttempts     int           // apply attempts before parking (default 5)
	BackoffBase     time.Duration // first retry delay (default 200ms)
	BackoffCap      time.Duration // retry delay ceiling (default 5s)
	ApplyTimeout    time.Duration // per-attempt deadline (default 5s)
	ReconcileEvery  time.Duration // repair log sweep interval (default 60s)
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueCap <= 0 {
		c.QueueCap = 1024
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 500 * time.Millisecond
	}
	if c.StalenessBudget <= 0 {
		c.StalenessBudget = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = time.Minute
	}
}

// Indexer applies store changes to the in-memory Index asynchronously.
// Updates for the same agent land on the same shard and are applied in
// submission order.
type Indexer struct {
	cfg    Config
	index  *Index
	loader Loader
	repair RepairLog
	log    *zap.Logger

	slots  *semaphore.Weighted
	shards []*shard
	stop   chan struct{}
	wg     sync.WaitGroup
}

type shard struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []queuedUpdate
}

// queuedUpdate remembers when the update entered the queue so applied lag
// can be measured against the staleness budget.
type queuedUpdate struct {
	agentID uuid.UUID
	at      time.Time
}

// NewIndexer wires the pipeline. Call Start to begin processing.
func NewIndexer(index *Index, loader Loader, repair RepairLog, log *zap.Logger, cfg Config) *Indexer {
	cfg.withDefaults()
	ix := &Indexer{
		cfg:    cfg,
		index:  index,
		loader: loader,
		repair: repair,
		log:    log,
		slots:  semaphore.NewWeighted(int64(cfg.QueueCap)),
		stop:   make(chan struct{}),
	}
	ix.shards = make([]*shard, cfg.Workers)
	for i := range ix.shards {
		s := &shard{}
		s.cond = sync.NewCond(&s.mu)
		ix.shards[i] = s
	}
	return ix
}

// Rebuild loads every live agent into the index. Run once at startup before
// serving traffic.
func (ix *Indexer) Rebuild(ctx context.Context) error {
	n := 0
	err := ix.loader.AllViews(ctx, func(v *model.AgentView) error {
		ix.index.Upsert(v)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	ix.log.Info("search index rebuilt", zap.Int("agents", n))
	return nil
}

// Start launches the workers and the repair reconciler.
func (ix *Indexer) Start() {
	for i, s := range ix.shards {
		ix.wg.Add(1)
		go ix.worker(i, s)
	}
	ix.wg.Add(1)
	go ix.reconciler()
}

// Stop drains nothing: queued updates are abandoned, and the reconciler plus
// the startup rebuild make the index converge on the next boot.
func (ix *Indexer) Stop() {
	close(ix.stop)
	for _, s := range ix.shards {
		s.cond.Broadcast()
	}
	ix.wg.Wait()
}

// Reservation is a held queue slot. Exactly one of Submit or Release must be
// called.
type Reservation struct {
	ix   *Indexer
	used bool
}

// Reserve blocks until a queue slot is free or the enqueue timeout elapses.
// A saturated queue surfaces as CodeOverloaded so the publish transaction
// can abort before commit.
func (ix *Indexer) Reserve(ctx context.Context) (*Reservation, error) {
	rctx, cancel := context.WithTimeout(ctx, ix.cfg.EnqueueTimeout)
	defer cancel()
	if err := ix.slots.Acquire(rctx, 1); err != nil {
		return nil, model.E(model.CodeOverloaded, "search index queue is full")
	}
	return &Reservation{ix: ix}, nil
}

// Submit queues the update on the reserved slot.
func (r *Reservation) Submit(agentID uuid.UUID) {
	if r.used {
		return
	}
	r.used = true
	s := r.ix.shardFor(agentID)
	s.mu.Lock()
	s.queue = append(s.queue, queuedUpdate{agentID: agentID, at: time.Now()})
	s.mu.Unlock()
	s.cond.Signal()
	queueDepth.Inc()
}

// Release returns an unused slot, for publishes that roll back after
// reserving.
func (r *Reservation) Release() {
	if r.used {
		return
	}
	r.used = true
	r.ix.slots.Release(1)
}

// Enqueue is Reserve+Submit for callers without a surrounding transaction
// (entitlement changes, federation sync).
func (ix *Indexer) Enqueue(ctx context.Context, agentID uuid.UUID) error {
	res, err := ix.Reserve(ctx)
	if err != nil {
		return err
	}
	res.Submit(agentID)
	return nil
}

func (ix *Indexer) shardFor(agentID uuid.UUID) *shard {
	h := fnv.New32a()
	h.Write(agentID[:]) //nolint:errcheck
	return ix.shards[int(h.Sum32())%len(ix.shards)]
}

func (ix *Indexer) worker(n int, s *shard) {
	defer ix.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if ix.stopped() {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		queueDepth.Dec()
		ix.process(item.agentID)
		ix.slots.Release(1)

		if lag := time.Since(item.at); lag > ix.cfg.StalenessBudget {
			updatesLate.Inc()
			ix.log.Warn("index update exceeded staleness budget",
				zap.String("agent_id", item.agentID.String()),
				zap.Duration("lag", lag),
				zap.Duration("budget", ix.cfg.StalenessBudget))
		}

		if ix.stopped() {
			return
		}
	}
}

func (ix *Indexer) process(agentID uuid.UUID) {
	var err error
	for attempt := 1; attempt <= ix.cfg.MaxAttempts; attempt++ {
		if err = ix.applyOnce(agentID); err == nil {
			updatesTotal.WithLabelValues("ok").Inc()
			return
		}
		if attempt < ix.cfg.MaxAttempts && !ix.sleep(backoff(ix.cfg, attempt)) {
			break
		}
	}

	updatesTotal.WithLabelValues("parked").Inc()
	ix.log.Warn("index update parked for repair",
		zap.String("agent_id", agentID.String()),
		zap.Int("attempts", ix.cfg.MaxAttempts),
		zap.Error(err))

	pctx, cancel := context.WithTimeout(context.Background(), ix.cfg.ApplyTimeout)
	defer cancel()
	if perr := ix.repair.Park(pctx, agentID, err.Error(), ix.cfg.MaxAttempts); perr != nil {
		ix.log.Error("parking index update failed", zap.String("agent_id", agentID.String()), zap.Error(perr))
	}
	ix.refreshBacklogGauge()
}

func (ix *Indexer) applyOnce(agentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), ix.cfg.ApplyTimeout)
	defer cancel()

	view, err := ix.loader.LoadView(ctx, agentID)
	if err != nil {
		return err
	}
	if view == nil {
		ix.index.Delete(agentID)
		return nil
	}
	ix.index.Upsert(view)
	return nil
}

func (ix *Indexer) reconciler() {
	defer ix.wg.Done()
	ticker := time.NewTicker(ix.cfg.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ix.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), ix.cfg.ReconcileEvery/2)
		ids, err := ix.repair.Pending(ctx, 100)
		if err != nil {
			ix.log.Error("reading index repair log failed", zap.Error(err))
			cancel()
			continue
		}
		for _, id := range ids {
			if err := ix.applyOnce(id); err != nil {
				ix.log.Warn("index repair still failing",
					zap.String("agent_id", id.String()), zap.Error(err))
				continue
			}
			if err := ix.repair.Resolve(ctx, id); err != nil {
				ix.log.Error("resolving repair entry failed",
					zap.String("agent_id", id.String()), zap.Error(err))
				continue
			}
			updatesTotal.WithLabelValues("repaired").Inc()
		}
		cancel()
		ix.refreshBacklogGauge()
	}
}

func (ix *Indexer) refreshBacklogGauge() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, err := ix.repair.Count(ctx); err == nil {
		repairBacklog.Set(float64(n))
	}
}

func (ix *Indexer) stopped() bool {
	select {
	case <-ix.stop:
		return true
	default:
		return false
	}
}

// sleep waits d or until shutdown; reports false on shutdown.
func (ix *Indexer) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ix.stop:
		return false
	case <-t.C:
		return true
	}
}

func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BackoffBase << (attempt - 1)
	if d > cfg.BackoffCap {
		return cfg.BackoffCap
	}
	return d
}
