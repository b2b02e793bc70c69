package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFlatEnvKeysBind(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("MAX_AGENTS_PER_CLIENT", "7")
	t.Setenv("ENABLE_FEDERATION", "true")
	t.Setenv("PEER_SYNC_MAX_PARALLEL", "9")
	t.Setenv("INDEX_ENQUEUE_TIMEOUT_MS", "250")
	t.Setenv("INDEX_STALENESS_BUDGET_MS", "1500")
	t.Setenv("REGISTRY_BASE_URL", "https://registry.example.com")

	configureViper()

	if got := viper.GetInt("registry.max_agents_per_client"); got != 7 {
		t.Errorf("max_agents_per_client = %d, want 7", got)
	}
	if !viper.GetBool("federation.enabled") {
		t.Error("ENABLE_FEDERATION=true should enable federation")
	}
	if got := viper.GetInt("federation.max_parallel"); got != 9 {
		t.Errorf("federation.max_parallel = %d, want 9", got)
	}
	if got := indexEnqueueTimeout(); got != 250*time.Millisecond {
		t.Errorf("enqueue timeout = %v, want 250ms", got)
	}
	if got := viper.GetInt("index.staleness_budget_ms"); got != 1500 {
		t.Errorf("staleness budget = %d, want 1500", got)
	}
	if got := viper.GetString("registry.base_url"); got != "https://registry.example.com" {
		t.Errorf("base_url = %q", got)
	}
}

func TestIndexEnqueueTimeoutDefault(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	configureViper()
	if got := indexEnqueueTimeout(); got != 500*time.Millisecond {
		t.Errorf("default enqueue timeout = %v, want 500ms", got)
	}
}

func TestDottedEnvFormsStillBind(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("FEDERATION_ENABLED", "true")
	t.Setenv("REGISTRY_MAX_AGENTS_PER_CLIENT", "11")

	configureViper()
	if !viper.GetBool("federation.enabled") {
		t.Error("FEDERATION_ENABLED=true should enable federation")
	}
	if got := viper.GetInt("registry.max_agents_per_client"); got != 11 {
		t.Errorf("max_agents_per_client = %d, want 11", got)
	}
}
