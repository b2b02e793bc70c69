package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentdex/agentdex/internal/registry/model"
)

func indexServer(t *testing.T, pages map[string]IndexPage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != IndexPath {
			http.NotFound(w, r)
			return
		}
		page, ok := pages[r.URL.Query().Get("cursor")]
		if !ok {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchIndex_walksPages(t *testing.T) {
	srv := indexServer(t, map[string]IndexPage{
		"": {
			Items:      []IndexEntry{{Name: "a", Publisher: "p"}, {Name: "b", Publisher: "p"}},
			NextCursor: "c2",
		},
		"c2": {
			Items: []IndexEntry{{Name: "c", Publisher: "q"}},
		},
	})

	client := NewClient(&PeerRegistry{Name: "peer", BaseURL: srv.URL}, 0)
	entries, err := client.FetchIndex(context.Background())
	if err != nil {
		t.Fatalf("FetchIndex: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[2].Key() != "q/c" {
		t.Errorf("last entry = %s", entries[2].Key())
	}
}

func TestFetchIndex_endlessCursorIsCutOff(t *testing.T) {
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		json.NewEncoder(w).Encode(IndexPage{NextCursor: "again"})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&PeerRegistry{Name: "peer", BaseURL: srv.URL}, 100000)
	if _, err := client.FetchIndex(context.Background()); !model.IsCode(err, model.CodeUpstream) {
		t.Fatalf("endless pagination should be refused, got %v", err)
	}
	if pages != maxIndexPages {
		t.Errorf("walked %d pages before cutting off, want %d", pages, maxIndexPages)
	}
}

func TestFetchIndex_badJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not an index</html>"))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(&PeerRegistry{Name: "peer", BaseURL: srv.URL}, 0)
	if _, err := client.FetchIndex(context.Background()); !model.IsCode(err, model.CodeUpstream) {
		t.Fatalf("want upstream error, got %v", err)
	}
}

func TestFetchCard_sendsBearerFromTokenURL(t *testing.T) {
	var gotAuth string
	cards := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(cards.Close)

	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(tokens.Close)

	client := NewClient(&PeerRegistry{
		Name:         "peer",
		BaseURL:      cards.URL,
		TokenURL:     tokens.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
	}, 0)

	if _, err := client.FetchCard(context.Background(), cards.URL+"/card"); err != nil {
		t.Fatalf("FetchCard: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
