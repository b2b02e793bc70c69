package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/agentdex/agentdex/internal/federation"
	"github.com/agentdex/agentdex/pkg/agentcard"
)

func TestWellKnownIndexPagination(t *testing.T) {
	e := newEnv(t)
	mgr := e.token(t, "mgr-1")
	names := []string{"one", "two", "three"}
	for _, name := range names {
		e.publish(t, mgr, cardJSON(name, "1.0.0", nil), true)
	}
	// A private agent never appears on the index.
	e.publish(t, mgr, cardJSON("hidden", "1.0.0", nil), false)

	w := do(e.router, http.MethodGet, "/.well-known/agents/index.json?limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("index page = %d: %s", w.Code, w.Body.String())
	}
	var page federation.IndexPage
	decode(t, w, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	for _, it := range page.Items {
		if it.ContentHash == "" || it.Publisher != "mgr-1" {
			t.Errorf("index entry = %+v", it)
		}
		if !strings.HasPrefix(it.CardURL, testBaseURL+"/agents/") || !strings.HasSuffix(it.CardURL, "/card") {
			t.Errorf("card url = %q", it.CardURL)
		}
	}

	w = do(e.router, http.MethodGet, "/.well-known/agents/index.json?limit=2&cursor="+page.NextCursor, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second page = %d: %s", w.Code, w.Body.String())
	}
	var rest federation.IndexPage
	decode(t, w, &rest)
	if len(rest.Items) != 1 {
		t.Fatalf("second page = %+v", rest)
	}

	seen := map[string]bool{}
	for _, it := range append(page.Items, rest.Items...) {
		seen[it.Name] = true
	}
	for _, name := range names {
		if !seen[name] {
			t.Errorf("index missing %s", name)
		}
	}
	if seen["hidden"] {
		t.Error("private agent leaked onto the public index")
	}
}

func TestWellKnownIndexRejectsMalformedCursor(t *testing.T) {
	e := newEnv(t)

	w := do(e.router, http.MethodGet, "/.well-known/agents/index.json?cursor=%21%21%21", "", nil)
	var body errResp
	decode(t, w, &body)
	if w.Code != http.StatusBadRequest || body.Code != "invalid_cursor" {
		t.Errorf("malformed cursor = %d code=%s", w.Code, body.Code)
	}
}

// The registry's own /.well-known/agent.json must itself be a valid agent
// card, or A2A clients cannot consume it.
func TestRegistryCardValidates(t *testing.T) {
	e := newEnv(t)

	w := do(e.router, http.MethodGet, "/.well-known/agent.json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("registry card = %d: %s", w.Code, w.Body.String())
	}
	card, err := agentcard.Parse(w.Body.Bytes())
	if err != nil {
		t.Fatalf("registry card does not validate: %v", err)
	}
	if card.Name != "agentdex" || card.Version != "1.2.3" || card.URL != testBaseURL {
		t.Errorf("card = name=%s version=%s url=%s", card.Name, card.Version, card.URL)
	}
}
