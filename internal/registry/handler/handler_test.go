package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/agentdex/agentdex/internal/auth"
	"github.com/agentdex/agentdex/internal/cache"
	"github.com/agentdex/agentdex/internal/cardfetch"
	"github.com/agentdex/agentdex/internal/federation"
	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/agentdex/agentdex/internal/registry/service"
	"github.com/agentdex/agentdex/internal/search"
	"github.com/agentdex/agentdex/pkg/agentcard"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

// testKey signs every test token. Generated once; 2048-bit keygen per test
// would dominate the suite's runtime.
var testKey = func() *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return k
}()

// memStore is an in-memory stand-in for repository.AgentRepository, wide
// enough to back every service the handlers touch.
type memStore struct {
	mu         sync.Mutex
	records    []*model.AgentRecord
	versions   map[uuid.UUID][]*model.AgentVersion
	publishers map[string]*model.Publisher
	ents       *memEnts
}

func newMemStore(ents *memEnts) *memStore {
	return &memStore{
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
	for _, rec := range m.records {
		if rec.ID == id && rec.DeletedAt == nil {
			return rec, nil
		}
	}
	return nil, model.NotFound("agent")
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
	for _, rec := range m.records {
		if rec.ID != agentID || rec.DeletedAt != nil {
			continue
		}
		for _, v := range m.versions[agentID] {
			if v.ID == rec.LatestVersionID {
				return v, nil
			}
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
			return nil, err
		}
	}

	rec.LatestVersionID = v.ID
	rec.UpdatedAt = now
	rec.Public = public
	if created {
		m.records = append(m.records, rec)
	}
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
		if len(filter.EntitledBy) > 0 && !rec.Public && !m.ents.hasAny(tenantID, rec.ID, filter.EntitledBy) {
			continue
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return cut(out, cursor, limit), nil
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
	return cut(out, cursor, limit), nil
}

// PublicIndex makes memStore usable as the well-known index source.
func (m *memStore) PublicIndex(_ context.Context, cursor *model.Cursor, limit int) ([]model.IndexRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var public []*model.AgentRecord
	for _, rec := range m.records {
		if rec.Public && rec.DeletedAt == nil {
			public = append(public, rec)
		}
	}
	sortRecords(public)
	public = cut(public, cursor, limit)

	rows := make([]model.IndexRow, 0, len(public))
	for _, rec := range public {
		for _, v := range m.versions[rec.ID] {
			if v.ID == rec.LatestVersionID {
				rows = append(rows, model.IndexRow{
					ID:            rec.ID,
					Name:          rec.Name,
					PublisherName: rec.PublisherName,
					Version:       v.Version,
					ContentHash:   v.ContentHash,
					UpdatedAt:     rec.UpdatedAt,
				})
			}
		}
	}
	return rows, nil
}

func sortRecords(records []*model.AgentRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})
}

func cut(records []*model.AgentRecord, cursor *model.Cursor, limit int) []*model.AgentRecord {
	if cursor != nil {
		i := 0
		for ; i < len(records); i++ {
			rec := records[i]
			if rec.UpdatedAt.Before(cursor.UpdatedAt) ||
				(rec.UpdatedAt.Equal(cursor.UpdatedAt) && rec.ID.String() < cursor.ID.String()) {
				break
			}
		}
		records = records[i:]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// LoadView and AllViews make memStore usable as the indexer's Loader.
func (m *memStore) LoadView(_ context.Context, agentID uuid.UUID) (*model.AgentView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID != agentID || rec.DeletedAt != nil {
			continue
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
	}
	return nil, nil
}

func (m *memStore) AllViews(ctx context.Context, fn func(*model.AgentView) error) error {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.records))
	for _, rec := range m.records {
		ids = append(ids, rec.ID)
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
	grants map[string]*model.Entitlement
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

// memRepair is an in-memory index repair log.
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

// stubPeerStore backs PeerHandler and the /stats peer count without pgx.
type stubPeerStore struct {
	mu    sync.Mutex
	peers map[uuid.UUID]*federation.PeerRegistry
	runs  map[uuid.UUID][]*federation.SyncRun
}

func newStubPeerStore() *stubPeerStore {
	return &stubPeerStore{
		peers: make(map[uuid.UUID]*federation.PeerRegistry),
		runs:  make(map[uuid.UUID][]*federation.SyncRun),
	}
}

func (s *stubPeerStore) CreatePeer(_ context.Context, p *federation.PeerRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	s.peers[p.ID] = p
	return nil
}

func (s *stubPeerStore) UpdatePeer(_ context.Context, p *federation.PeerRegistry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[p.ID]; !ok {
		return model.NotFound("peer")
	}
	s.peers[p.ID] = p
	return nil
}

func (s *stubPeerStore) DeletePeer(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return model.NotFound("peer")
	}
	delete(s.peers, id)
	return nil
}

func (s *stubPeerStore) GetPeer(_ context.Context, id uuid.UUID) (*federation.PeerRegistry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return nil, model.NotFound("peer")
	}
	return p, nil
}

func (s *stubPeerStore) ListPeers(_ context.Context, enabledOnly bool) ([]*federation.PeerRegistry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*federation.PeerRegistry
	for _, p := range s.peers {
		if enabledOnly && !p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *stubPeerStore) ListRuns(_ context.Context, peerID uuid.UUID, limit int) ([]*federation.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[peerID]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// stubTrigger records sync triggers and can be primed to fail.
type stubTrigger struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (s *stubTrigger) Trigger(_ context.Context, peerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, peerID)
	return nil
}

func (s *stubTrigger) triggered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// env is a fully wired registry behind a real router: in-memory persistence,
// a live indexer, the built-in token issuer, and every handler mounted.
type env struct {
	store     *memStore
	ents      *memEnts
	respCache *cache.Cache
	index     *search.Index
	indexer   *search.Indexer
	issuer    *auth.Issuer
	peerStore *stubPeerStore
	trigger   *stubTrigger
	router    *gin.Engine
}

const testBaseURL = "https://registry.example.com"

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

	respCache := cache.New(time.Minute)
	t.Cleanup(respCache.Close)

	limiter := NewLimiter()
	t.Cleanup(limiter.Close)

	issuer := auth.NewIssuer(testKey, testBaseURL, time.Hour, []auth.Client{
		{ID: "mgr-1", Secret: "secret", TenantID: "t1", Roles: []string{"CatalogManager"}, Name: "mgr-1"},
		{ID: "reader-1", Secret: "secret", TenantID: "t1", Roles: []string{"User"}, Name: "reader-1"},
		{ID: "admin-1", Secret: "secret", TenantID: "t1", Roles: []string{"Administrator"}, Name: "admin-1"},
		{ID: "mgr-2", Secret: "secret", TenantID: "t2", Roles: []string{"CatalogManager"}, Name: "mgr-2"},
	})

	logger := zap.NewNop()
	discovery := service.NewDiscoveryService(store, ents, index, newMemRepair(), logger)
	publish := service.NewPublishService(store, ents, cardfetch.New(), indexer, respCache, 0, logger)
	entitlements := service.NewEntitlementService(store, ents, respCache, logger)

	e := &env{
		store:     store,
		ents:      ents,
		respCache: respCache,
		index:     index,
		indexer:   indexer,
		issuer:    issuer,
		peerStore: newStubPeerStore(),
		trigger:   &stubTrigger{},
	}

	agents := NewAgentHandler(discovery, publish, entitlements, respCache, DefaultCacheTTLs(), limiter, logger)
	agents.SetPeerCounter(e.peerStore)
	peers := NewPeerHandler(e.peerStore, e.trigger, limiter, logger)
	wellKnown := NewWellKnownHandler(store, testBaseURL, "1.2.3", respCache, DefaultCacheTTLs(), limiter, logger)
	tokens := NewTokenHandler(issuer, limiter, logger)

	r := gin.New()
	r.Use(RequestID(), Authenticate(issuer))
	api := r.Group("/")
	agents.Register(api)
	peers.Register(api)
	wellKnown.Register(r)
	tokens.Register(r)
	e.router = r
	return e
}

// token logs a registered client in through the issuer.
func (e *env) token(t *testing.T, clientID string) string {
	t.Helper()
	tok, _, err := e.issuer.ClientCredentials(clientID, "secret")
	if err != nil {
		t.Fatalf("issue token for %s: %v", clientID, err)
	}
	return tok
}

// do runs one request through the router. A nil body sends no payload;
// []byte passes through raw; anything else is marshalled to JSON.
func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf *bytes.Reader
	switch b := body.(type) {
	case nil:
		buf = bytes.NewReader(nil)
	case []byte:
		buf = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			panic(fmt.Sprintf("marshal request body: %v", err))
		}
		buf = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// decode unmarshals a response body, failing the test on malformed JSON.
func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
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

// publish pushes a card through the publish endpoint and returns the agent id.
func (e *env) publish(t *testing.T, token string, card []byte, public bool) uuid.UUID {
	t.Helper()
	w := do(e.router, http.MethodPost, "/agents/publish", token, gin.H{
		"card":   json.RawMessage(card),
		"public": public,
	})
	if w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Fatalf("publish = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AgentID uuid.UUID `json:"agentId"`
	}
	decode(t, w, &resp)
	return resp.AgentID
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
