package main

import (
	"os"
	"regexp"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := []struct {
		file string
		want int64
	}{
		{"0001_init.sql", 1},
		{"004_account_recovery.up.sql", 4},
		{"0123_add_index.sql", 123},
	}
	for _, tc := range cases {
		got, err := versionFromFile(tc.file)
		if err != nil {
			t.Errorf("versionFromFile(%q): %v", tc.file, err)
			continue
		}
		if got != tc.want {
			t.Errorf("versionFromFile(%q) = %d, want %d", tc.file, got, tc.want)
		}
	}
	if _, err := versionFromFile("notanumber_init.sql"); err == nil {
		t.Error("non-numeric prefix should be rejected")
	}
}

// The verification list must track the migrations: a table added to the
// schema without being listed here would never be checked, and a renamed
// table would make every migrate run fail.
func TestRegistryTablesMatchMigrations(t *testing.T) {
	sql, err := os.ReadFile("../../migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	re := regexp.MustCompile(`(?i)CREATE TABLE(?: IF NOT EXISTS)?\s+(\w+)`)
	created := map[string]bool{}
	for _, m := range re.FindAllStringSubmatch(string(sql), -1) {
		created[m[1]] = true
	}

	for _, table := range registryTables {
		if !created[table] {
			t.Errorf("registryTables lists %q but no migration creates it", table)
		}
		delete(created, table)
	}
	for table := range created {
		t.Errorf("migration creates %q but registryTables does not verify it", table)
	}
}
