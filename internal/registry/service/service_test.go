package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/cardfetch"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/internal/search"
	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for repository.AgentRepository.
type memStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*model.AgentRecord
	versions   map[uuid.UUID][]*model.AgentVersion // by agent id, oldest first
	publishers map[string]*model.Publisher         // tenant|subject
	ents       *memEnts
}

func newMemStore(ents *memEnts) *memStore {
	return &memStore{
		records:    make(map[uuid.UUID]*model.AgentRecord),
		versions:   make(map[uuid.UUID][]*model.AgentVersion),
		publishers: make(map[string]*model.Publisher),
		ents:       ents,
	}
}

func (m *memStore) UpsertPublisher(_ context.Context, tenantID, subject, displayName string) (*model.Publisher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + subject
	if p, ok := m.publishers[key]; ok {
		p.DisplayName = displayName
		return p, nil
	}
	p := &model.Publisher{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Subject:     subject,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	m.publishers[key] = p
	return p, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || rec.DeletedAt != nil {
		return nil, model.NotFound("agent")
	}
	return rec, nil
}

func (m *memStore) GetByName(_ context.Context, tenantID string, publisherID uuid.UUID, name string) (*model.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.findLocked(tenantID, publisherID, name); rec != nil {
		return rec, nil
	}
	return nil, model.NotFound("agent")
}

func (m *memStore) findLocked(tenantID string, publisherID uuid.UUID, name string) *model.AgentRecord {
	for _, rec := range m.records {
		if rec.TenantID == tenantID && rec.PublisherID == publisherID && rec.Name == name && rec.DeletedAt == nil {
			return rec
		}
	}
	return nil
}

func (m *memStore) GetLatest(_ context.Context, agentID uuid.UUID) (*model.AgentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[agentID]
	if !ok || rec.DeletedAt != nil {
		return nil, model.NotFound("agent")
	}
	for _, v := range m.versions[agentID] {
		if v.ID == rec.LatestVersionID {
			return v, nil
		}
	}
	return nil, model.NotFound("agent")
}

func (m *memStore) CountByPublisher(_ context.Context, publisherID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.PublisherID == publisherID && rec.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountAgents(_ context.Context) (total, public int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.DeletedAt != nil {
			continue
		}
		total++
		if rec.Public {
			public++
		}
	}
	return total, public, nil
}

func (m *memStore) UpsertVersionStaged(_ context.Context, tenantID string, pub *model.Publisher,
	name string, public bool, version string, card []byte, contentHash string, source model.Source,
	sourceURL string, federatedFrom *uuid.UUID, stage func(*model.UpsertOutcome) error) (*model.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := m.findLocked(tenantID, pub.ID, name)
	created := rec == nil
	if created {
		rec = &model.AgentRecord{
			ID:            uuid.New(),
			TenantID:      tenantID,
			PublisherID:   pub.ID,
			PublisherName: pub.DisplayName,
			Name:          name,
			Public:        public,
			FederatedFrom: federatedFrom,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	} else {
		if rec.Federated() && source != model.SourceFederated {
			return nil, model.E(model.CodeForbidden, "federated agents cannot be modified by local publish")
		}
		for _, v := range m.versions[rec.ID] {
			if v.ContentHash == contentHash {
				out := &model.UpsertOutcome{Record: rec, Version: v, Created: false}
				if stage != nil {
					if err := stage(out); err != nil {
						return nil, err
					}
				}
				return out, nil
			}
		}
	}

	v := &model.AgentVersion{
		ID:          uuid.New(),
		AgentID:     rec.ID,
		Version:     version,
		Card:        card,
		ContentHash: contentHash,
		Source:      source,
		SourceURL:   sourceURL,
		CreatedAt:   now,
	}
	out := &model.UpsertOutcome{Record: rec, Version: v, Created: true}
	if stage != nil {
		if err := stage(out); err != nil {
			return nil, err // nothing committed
		}
	}

	rec.LatestVersionID = v.ID
	rec.UpdatedAt = now
	rec.Public = public
	m.records[rec.ID] = rec
	m.versions[rec.ID] = append(m.versions[rec.ID], v)
	return out, nil
}

func (m *memStore) ListForTenant(_ context.Context, tenantID string, cursor *model.Cursor, limit int, filter model.ListFilter) ([]*model.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.AgentRecord
	for _, rec := range m.records {
		if rec.TenantID != tenantID || rec.DeletedAt != nil {
			continue
		}
		if filter.Public != nil && rec.Public != *filter.Public {
			continue
		}
		if filter.PublisherID != nil && rec.PublisherID != *filter.PublisherID {
			continue
		}
		if len(filter.EntitledBy) > 0 && !rec.Public && !m.ents.hasAny(tenantID, rec.ID, filter.EntitledBy) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return window(out, cursor, limit), nil
}

func (m *memStore) ListPublic(_ context.Context, cursor *model.Cursor, limit int) ([]*model.AgentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AgentRecord
	for _, rec := range m.records {
		if rec.Public && rec.DeletedAt == nil {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return window(out, cursor, limit), nil
}

func sortRecords(records []*model.AgentRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})
}

func window(records []*model.AgentRecord, cursor *model.Cursor, limit int) []*model.AgentRecord {
	if cursor != nil {
		for i, rec := range records {
			if rec.UpdatedAt.Before(cursor.UpdatedAt) ||
				(rec.UpdatedAt.Equal(cursor.UpdatedAt) && rec.ID.String() < cursor.ID.String()) {
				records = records[i:]
				goto cut
			}
		}
		return nil
	}
cut:
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// LoadView and AllViews make memStore usable as the indexer's Loader.
func (m *memStore) LoadView(_ context.Context, agentID uuid.UUID) (*model.AgentView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[agentID]
	if !ok || rec.DeletedAt != nil {
		return nil, nil
	}
	for _, v := range m.versions[agentID] {
		if v.ID == rec.LatestVersionID {
			card, err := agentcard.Parse(v.Card)
			if err != nil {
				return nil, err
			}
			return model.BuildView(rec, v, card), nil
		}
	}
	return nil, nil
}

func (m *memStore) AllViews(ctx context.Context, fn func(*model.AgentView) error) error {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		v, err := m.LoadView(ctx, id)
		if err != nil {
			return err
		}
		if v != nil {
			if err := fn(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// memEnts is an in-memory stand-in for repository.EntitlementRepository.
type memEnts struct {
	mu     sync.Mutex
	grants map[string]*model.Entitlement // tenant|subject|agent
}

func newMemEnts() *memEnts {
	return &memEnts{grants: make(map[string]*model.Entitlement)}
}

func entKey(tenantID, subject string, agentID uuid.UUID) string {
	return tenantID + "|" + subject + "|" + agentID.String()
}

func (m *memEnts) Grant(_ context.Context, tenantID, subject string, agentID uuid.UUID) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entKey(tenantID, subject, agentID)
	if e, ok := m.grants[key]; ok && e.Active() {
		return e, nil
	}
	e := &model.Entitlement{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Subject:   subject,
		AgentID:   agentID,
		GrantedAt: time.Now().UTC(),
	}
	m.grants[key] = e
	return e, nil
}

func (m *memEnts) Revoke(_ context.Context, tenantID, subject string, agentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.grants[entKey(tenantID, subject, agentID)]; ok && e.Active() {
		now := time.Now().UTC()
		e.RevokedAt = &now
	}
	return nil
}

func (m *memEnts) ListForAgent(_ context.Context, tenantID string, agentID uuid.UUID) ([]*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Entitlement
	for _, e := range m.grants {
		if e.TenantID == tenantID && e.AgentID == agentID && e.Active() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEnts) HasAny(_ context.Context, tenantID string, agentID uuid.UUID, subjects []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasAny(tenantID, agentID, subjects), nil
}

func (m *memEnts) hasAny(tenantID string, agentID uuid.UUID, subjects []string) bool {
	for _, s := range subjects {
		if e, ok := m.grants[entKey(tenantID, s, agentID)]; ok && e.Active() {
			return true
		}
	}
	return false
}

func (m *memEnts) FilterEntitled(_ context.Context, tenantID string, agentIDs []uuid.UUID, subjects []string) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for _, id := range agentIDs {
		if m.hasAny(tenantID, id, subjects) {
			out[id] = true
		}
	}
	return out, nil
}

// memRepair is an in-memory repair log for the indexer.
type memRepair struct {
	mu     sync.Mutex
	parked map[uuid.UUID]string
}

func newMemRepair() *memRepair { return &memRepair{parked: make(map[uuid.UUID]string)} }

func (m *memRepair) Park(_ context.Context, agentID uuid.UUID, reason string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parked[agentID] = reason
	return nil
}

func (m *memRepair) Pending(_ context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id := range m.parked {
		if len(ids) == limit {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memRepair) Resolve(_ context.Context, agentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parked, agentID)
	return nil
}

func (m *memRepair) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parked), nil
}

// memCache counts invalidations.
type memCache struct {
	mu           sync.Mutex
	invalidation int
}

func (m *memCache) InvalidateTenant(string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidation++
	return 0
}

func (m *memCache) invalidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidation
}

// env bundles a fully wired in-memory registry for service tests.
type env struct {
	store   *memStore
	ents    *memEnts
	index   *search.Index
	indexer *search.Indexer
	cache   *memCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ents := newMemEnts()
	store := newMemStore(ents)
	index := search.NewIndex()
	indexer := search.NewIndexer(index, store, newMemRepair(), zap.NewNop(), search.Config{
		Workers:        2,
		QueueCap:       64,
		EnqueueTimeout: 100 * time.Millisecond,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		ReconcileEvery: 50 * time.Millisecond,
	})
	indexer.Start()
	t.Cleanup(indexer.Stop)
	return &env{store: store, ents: ents, index: index, indexer: indexer, cache: &memCache{}}
}

func (e *env) publishService(maxAgents int, fetch cardFetcher) *PublishService {
	return NewPublishService(e.store, e.ents, fetch, e.indexer, e.cache, maxAgents, zap.NewNop())
}

func (e *env) discoveryService() *DiscoveryService {
	return NewDiscoveryService(e.store, e.ents, e.index, newMemRepair(), zap.NewNop())
}

func (e *env) entitlementService() *EntitlementService {
	return NewEntitlementService(e.store, e.ents, e.cache, zap.NewNop())
}

func manager(tenant, subject string) *auth.Principal {
	return &auth.Principal{
		Subject:     subject,
		TenantID:    tenant,
		Roles:       []model.Role{model.RoleCatalogManager},
		DisplayName: subject,
	}
}

func reader(tenant, subject string) *auth.Principal {
	return &auth.Principal{
		Subject:  subject,
		TenantID: tenant,
		Roles:    []model.Role{model.RoleUser},
	}
}

func admin(tenant string) *auth.Principal {
	return &auth.Principal{
		Subject:  "admin",
		TenantID: tenant,
		Roles:    []model.Role{model.RoleAdministrator},
	}
}

// cardJSON builds a minimal valid agent card.
func cardJSON(name, version string, mutate func(map[string]any)) []byte {
	card := map[string]any{
		"name":        name,
		"description": "test agent " + name,
		"url":         "https://agents.example.com/" + name,
		"version":     version,
		"capabilities": map[string]any{
			"streaming": true,
		},
		"securitySchemes": []any{
			map[string]any{"type": "apiKey", "name": "X-API-Key", "in": "header"},
		},
		"skills": []any{
			map[string]any{"id": "s1", "name": "main skill", "tags": []any{"demo"}},
		},
		"interface": map[string]any{
			"preferredTransport": "jsonrpc",
			"defaultInputModes":  []any{"text"},
			"defaultOutputModes": []any{"text"},
		},
	}
	if mutate != nil {
		mutate(card)
	}
	raw, err := json.Marshal(card)
	if err != nil {
		panic(fmt.Sprintf("marshal test card: %v", err))
	}
	return raw
}

// newFetcher returns a real bounded fetcher for by-URL tests.
func newFetcher() cardFetcher {
	return cardfetch.New()
}

// newStalledIndexer builds an indexer whose single queue slot is already
// held and whose workers never run, so the next Reserve times out.
func newStalledIndexer(t *testing.T, store *memStore) *search.Indexer {
	t.Helper()
	ix := search.NewIndexer(search.NewIndex(), store, newMemRepair(), zap.NewNop(), search.Config{
		QueueCap:       1,
		EnqueueTimeout: 50 * time.Millisecond,
	})
	if _, err := ix.Reserve(context.Background()); err != nil {
		t.Fatalf("priming reservation: %v", err)
	}
	return ix
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
