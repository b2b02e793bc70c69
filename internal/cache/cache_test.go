package cache

import (
	"strings"
	"testing"
	"time"
)

func TestSetGetExpire(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	key := Key("get", "tenant-A", "sub-1", "agent=42")
	c.Set(key, []byte("cached"), 20*time.Millisecond)

	if got, ok := c.Get(key); !ok || string(got) != "cached" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatal("expired entry still served")
	}
}

func TestDeletePrefix(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	c.Set(Key("list", "tenant-A", "sub-1", "page=1"), []byte("a1"), time.Minute)
	c.Set(Key("list", "tenant-A", "sub-2", "page=1"), []byte("a2"), time.Minute)
	c.Set(Key("list", "tenant-B", "sub-1", "page=1"), []byte("b1"), time.Minute)

	if n := c.DeletePrefix(TenantPrefix("list", "tenant-A")); n != 2 {
		t.Fatalf("DeletePrefix removed %d, want 2", n)
	}
	if _, ok := c.Get(Key("list", "tenant-B", "sub-1", "page=1")); !ok {
		t.Fatal("other tenant's entry was dropped")
	}
}

func TestInvalidateTenant(t *testing.T) {
	c := New(time.Hour)
	defer c.Close()

	c.Set(Key("get", "tenant-A", "sub-1", "a"), []byte("x"), time.Minute)
	c.Set(Key("search", "", "", "q=x"), []byte("y"), time.Minute) // unscoped
	c.Set(Key("get", "tenant-B", "sub-1", "a"), []byte("z"), time.Minute)

	if n := c.InvalidateTenant("tenant-A"); n != 2 {
		t.Fatalf("InvalidateTenant removed %d, want 2 (tenant + unscoped)", n)
	}
	if _, ok := c.Get(Key("get", "tenant-B", "sub-1", "a")); !ok {
		t.Fatal("tenant-B entry should survive")
	}
}

func TestJanitorEvicts(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	c.Set("cache:get:*:*:x", []byte("v"), time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor never evicted expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestKeyShape(t *testing.T) {
	k := Key("search", "", "", "q=recipe")
	if !strings.HasPrefix(k, "cache:search:*:*:") {
		t.Errorf("unscoped key = %q", k)
	}
	if k != Key("search", "", "", "q=recipe") {
		t.Error("key is not deterministic")
	}
	if k == Key("search", "", "", "q=soup") {
		t.Error("different params collide")
	}
}
