package federation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// errPeerDisabled aborts the apply phase when the peer was disabled while
// the sync was staging; the run is recorded as cancelled.
var errPeerDisabled = errors.New("peer disabled during sync")

// agentStore is the persistence interface for applying sync results.
// *repository.AgentRepository satisfies this interface.
type agentStore interface {
	UpsertPublisher(ctx context.Context, tenantID, subject, displayName string) (*model.Publisher, error)
	UpsertVersion(ctx context.Context, tenantID string, pub *model.Publisher, name string,
		public bool, version string, card []byte, contentHash string, source model.Source,
		sourceURL string, federatedFrom *uuid.UUID) (*model.UpsertOutcome, error)
	ListFederated(ctx context.Context, peerID uuid.UUID) (map[string]model.FederatedEntry, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// peerStore is the peer bookkeeping side. *Repository satisfies this.
type peerStore interface {
	ListPeers(ctx context.Context, enabledOnly bool) ([]*PeerRegistry, error)
	GetPeer(ctx context.Context, id uuid.UUID) (*PeerRegistry, error)
	StartRun(ctx context.Context, peerID uuid.UUID) (*SyncRun, error)
	FinishRun(ctx context.Context, run *SyncRun) error
	RecordSync(ctx context.Context, peerID uuid.UUID, at time.Time, status string) error
}

// peerClient fetches from one peer. *Client satisfies this; tests stub it.
type peerClient interface {
	FetchIndex(ctx context.Context) ([]IndexEntry, error)
	FetchCard(ctx context.Context, cardURL string) ([]byte, error)
}

// indexQueue feeds the search indexer. *search.Indexer satisfies this.
type indexQueue interface {
	Enqueue(ctx context.Context, agentID uuid.UUID) error
}

// repairLog parks index updates that could not be enqueued.
// *repository.RepairLogRepository satisfies this.
type repairLog interface {
	Park(ctx context.Context, agentID uuid.UUID, reason string, attempts int) error
}

// responseCache is invalidated after applying sync changes.
// *cache.Cache satisfies this.
type responseCache interface {
	InvalidateTenant(tenant string) int
}

// Config tunes the sync manager.
type Config struct {
	MaxParallel  int           // concurrent peer syncs (default 4)
	Tick         time.Duration // scheduler resolution (default 15s)
	PeerRPS      float64       // outbound request rate per peer (default 5)
	SyncTimeout  time.Duration // per-sync deadline (default 5m)
	JitterFactor float64       // ± fraction of the interval (default 0.1)
}

func (c *Config) withDefaults() {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.Tick <= 0 {
		c.Tick = 15 * time.Second
	}
	if c.PeerRPS <= 0 {
		c.PeerRPS = 5
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 5 * time.Minute
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.1
	}
}

// Manager schedules and runs peer syncs. Each enabled peer is pulled on its
// own jittered interval; at most MaxParallel syncs run at once, and a peer
// never has two syncs in flight — a trigger arriving mid-sync queues one
// follow-up sync instead of starting a second.
type Manager struct {
	cfg    Config
	peers  peerStore
	agents agentStore
	queue  indexQueue
	repair repairLog
	cache  responseCache
	logger *zap.Logger

	// newClient and verifyCard are swapped by tests.
	newClient  func(*PeerRegistry) peerClient
	verifyCard func(context.Context, *agentcard.Card) error

	sem     *semaphore.Weighted
	mu      sync.Mutex
	running map[uuid.UUID]bool
	pending map[uuid.UUID]bool
	nextDue map[uuid.UUID]time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager wires a sync manager. Call Start to begin scheduling.
func NewManager(peers peerStore, agents agentStore, queue indexQueue, repair repairLog, cache responseCache, logger *zap.Logger, cfg Config) *Manager {
	cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		peers:   peers,
		agents:  agents,
		queue:   queue,
		repair:  repair,
		cache:   cache,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxParallel)),
		running: make(map[uuid.UUID]bool),
		pending: make(map[uuid.UUID]bool),
		nextDue: make(map[uuid.UUID]time.Time),
		stop:    make(chan struct{}),
	}
	m.newClient = func(p *PeerRegistry) peerClient { return NewClient(p, cfg.PeerRPS) }
	m.verifyCard = func(ctx context.Context, card *agentcard.Card) error {
		vctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return card.VerifySignature(vctx, nil)
	}
	return m
}

// Start launches the scheduler loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.schedule()
}

// Stop halts scheduling and waits for in-flight syncs.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Manager) schedule() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Tick)
		peers, err := m.peers.ListPeers(ctx, true)
		cancel()
		if err != nil {
			m.logger.Error("listing peers failed", zap.Error(err))
			continue
		}

		now := time.Now()
		for _, peer := range peers {
			m.mu.Lock()
			due, known := m.nextDue[peer.ID]
			if !known {
				// First sight of a peer: spread initial syncs out.
				due = now.Add(m.jitter(peer.SyncInterval) / 2)
				m.nextDue[peer.ID] = due
			}
			start := now.After(due) && !m.running[peer.ID]
			if start {
				m.running[peer.ID] = true
				m.nextDue[peer.ID] = now.Add(m.jitter(peer.SyncInterval))
			}
			m.mu.Unlock()

			if start {
				m.wg.Add(1)
				go func(p *PeerRegistry) {
					defer m.wg.Done()
					m.runSync(p)
				}(peer)
			}
		}
	}
}

// jitter spreads an interval by ±JitterFactor so peers synced from several
// replicas do not thunder in step.
func (m *Manager) jitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = time.Hour
	}
	f := 1 + m.cfg.JitterFactor*(2*rand.Float64()-1)
	return time.Duration(float64(interval) * f)
}

// SyncNow runs an immediate sync for one peer and waits for it. If a sync
// is already in flight the request collapses into one queued follow-up and
// SyncNow returns a nil run.
func (m *Manager) SyncNow(ctx context.Context, peerID uuid.UUID) (*SyncRun, error) {
	peer, err := m.peers.GetPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.running[peer.ID] {
		m.pending[peer.ID] = true
		m.mu.Unlock()
		return nil, nil
	}
	m.running[peer.ID] = true
	m.mu.Unlock()

	return m.syncPeer(ctx, peer)
}

// Trigger starts a sync for one peer in the background and returns once it
// is accepted. Triggers arriving while a sync is in flight collapse into at
// most one queued follow-up, which starts when the current sync finishes.
func (m *Manager) Trigger(ctx context.Context, peerID uuid.UUID) error {
	peer, err := m.peers.GetPeer(ctx, peerID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.running[peer.ID] {
		m.pending[peer.ID] = true
		m.mu.Unlock()
		return nil
	}
	m.running[peer.ID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSync(peer)
	}()
	return nil
}

func (m *Manager) runSync(peer *PeerRegistry) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SyncTimeout)
	defer cancel()
	if _, err := m.syncPeer(ctx, peer); err != nil {
		m.logger.Error("peer sync failed",
			zap.String("peer", peer.Name), zap.Error(err))
	}
}

// syncPeer pulls the peer's public index, diffs it against the local mirror
// set, and applies additions, updates, and retractions. The caller must
// have marked the peer running; syncPeer clears the mark and starts the
// queued follow-up sync when one was triggered meanwhile.
func (m *Manager) syncPeer(ctx context.Context, peer *PeerRegistry) (*SyncRun, error) {
	defer func() {
		m.mu.Lock()
		delete(m.running, peer.ID)
		again := m.pending[peer.ID]
		delete(m.pending, peer.ID)
		if again && !m.stopped() {
			m.running[peer.ID] = true
		} else {
			again = false
		}
		m.mu.Unlock()

		if again {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runSync(peer)
			}()
		}
	}()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	run, err := m.peers.StartRun(ctx, peer.ID)
	if err != nil {
		return nil, err
	}

	err = m.sync(ctx, peer, run)
	switch {
	case errors.Is(err, errPeerDisabled):
		run.Status = RunCancelled
		run.Error = err.Error()
		err = nil
	case err == nil && run.Failed > 0:
		run.Status = RunPartial
	case err == nil:
		run.Status = RunSucceeded
	case ctx.Err() != nil:
		run.Status = RunCancelled
		run.Error = ctx.Err().Error()
	default:
		run.Status = RunFailed
		run.Error = err.Error()
	}

	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if ferr := m.peers.FinishRun(fctx, run); ferr != nil {
		m.logger.Error("closing sync run failed", zap.String("peer", peer.Name), zap.Error(ferr))
	}
	if rerr := m.peers.RecordSync(fctx, peer.ID, run.StartedAt, run.Status); rerr != nil {
		m.logger.Error("recording sync failed", zap.String("peer", peer.Name), zap.Error(rerr))
	}

	m.logger.Info("peer sync finished",
		zap.String("peer", peer.Name),
		zap.String("status", run.Status),
		zap.Int("added", run.Added),
		zap.Int("updated", run.Updated),
		zap.Int("removed", run.Removed),
		zap.Int("failed", run.Failed))
	return run, err
}

// stagedEntry is one validated peer card waiting for the apply phase.
type stagedEntry struct {
	entry  IndexEntry
	card   *agentcard.Card
	exists bool
}

func (m *Manager) sync(ctx context.Context, peer *PeerRegistry, run *SyncRun) error {
	client := m.newClient(peer)

	entries, err := client.FetchIndex(ctx)
	if err != nil {
		return err
	}
	local, err := m.agents.ListFederated(ctx, peer.ID)
	if err != nil {
		return err
	}

	// Fetch and validate everything first; nothing is written until the
	// whole batch is staged, so a peer disabled mid-sync leaves no partial
	// state behind.
	var staged []stagedEntry
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := entry.Key()
		seen[key] = true

		mirror, exists := local[key]
		if exists && mirror.ContentHash == entry.ContentHash {
			continue
		}

		card, err := m.fetchEntry(ctx, client, entry)
		if err != nil {
			run.Failed++
			m.logger.Warn("peer entry rejected",
				zap.String("peer", peer.Name),
				zap.String("entry", key),
				zap.Error(err))
			continue
		}
		staged = append(staged, stagedEntry{entry: entry, card: card, exists: exists})
	}

	// Anything the peer no longer lists has been retracted.
	var removals []model.FederatedEntry
	for key, mirror := range local {
		if !seen[key] {
			removals = append(removals, mirror)
		}
	}

	cur, err := m.peers.GetPeer(ctx, peer.ID)
	if err != nil {
		return err
	}
	if !cur.Enabled {
		return errPeerDisabled
	}

	if len(staged) == 0 && len(removals) == 0 {
		return nil
	}

	pub, err := m.agents.UpsertPublisher(ctx, peer.TenantID, "peer:"+peer.Name, "peer:"+peer.Name)
	if err != nil {
		return err
	}

	changed := false
	for _, se := range staged {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		agentID, err := m.applyEntry(ctx, peer, pub, se)
		if err != nil {
			run.Failed++
			m.logger.Warn("storing peer entry failed",
				zap.String("peer", peer.Name),
				zap.String("entry", se.entry.Key()),
				zap.Error(err))
			continue
		}
		changed = true
		if se.exists {
			run.Updated++
		} else {
			run.Added++
		}
		m.enqueue(ctx, agentID)
	}

	for _, mirror := range removals {
		if err := m.agents.SoftDelete(ctx, mirror.RecordID); err != nil {
			run.Failed++
			m.logger.Warn("retracting mirror failed",
				zap.String("peer", peer.Name),
				zap.String("entry", mirror.Name),
				zap.Error(err))
			continue
		}
		changed = true
		run.Removed++
		m.enqueue(ctx, mirror.RecordID)
	}

	if changed {
		m.cache.InvalidateTenant(peer.TenantID)
	}
	return nil
}

// fetchEntry retrieves and validates one advertised card. The bytes must
// hash to what the index advertised, and a card carrying a signature with a
// jwksUrl must verify against it: a mirror never relaxes the trust checks a
// local publish would apply, and for federated cards a bad signature is
// fatal for the entry.
func (m *Manager) fetchEntry(ctx context.Context, client peerClient, entry IndexEntry) (*agentcard.Card, error) {
	raw, err := client.FetchCard(ctx, entry.CardURL)
	if err != nil {
		return nil, err
	}
	card, err := agentcard.Parse(raw)
	if err != nil {
		return nil, err
	}
	if card.ContentHash() != entry.ContentHash {
		return nil, model.E(model.CodeUpstream, "fetched card does not match the advertised content hash")
	}
	if card.Signature != nil && card.Signature.JWKSURL != "" {
		if err := m.verifyCard(ctx, card); err != nil {
			return nil, model.Wrap(model.CodeUpstream, "card signature rejected", err)
		}
	}
	return card, nil
}

// applyEntry stores one staged peer agent as a federated mirror.
func (m *Manager) applyEntry(ctx context.Context, peer *PeerRegistry, pub *model.Publisher, se stagedEntry) (uuid.UUID, error) {
	peerID := peer.ID
	out, err := m.agents.UpsertVersion(ctx, peer.TenantID, pub, se.entry.Key(), true,
		se.card.Version, se.card.CanonicalJSON(), se.card.ContentHash(), model.SourceFederated,
		se.entry.CardURL, &peerID)
	if err != nil {
		return uuid.Nil, err
	}
	return out.Record.ID, nil
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) enqueue(ctx context.Context, agentID uuid.UUID) {
	if err := m.queue.Enqueue(ctx, agentID); err != nil {
		if perr := m.repair.Park(ctx, agentID, "federation enqueue: "+err.Error(), 0); perr != nil {
			m.logger.Error("parking federated index update failed",
				zap.String("agent_id", agentID.String()), zap.Error(perr))
		}
	}
}
