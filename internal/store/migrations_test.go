package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestMigrationDownFilesDropWhatUpCreates(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	created := regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?(\w+)`)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		up, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		downName := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
		down, err := os.ReadFile(filepath.Join(migrationsDir, downName))
		if err != nil {
			t.Fatalf("read %s: %v", downName, err)
		}

		for _, match := range created.FindAllStringSubmatch(string(up), -1) {
			table := match[1]
			if !strings.Contains(strings.ToLower(string(down)), "drop table if exists "+table) {
				t.Errorf("%s creates table %s but %s does not drop it", name, table, downName)
			}
		}
	}
}

func TestInitialSchemaShape(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join(migrationsDir, "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read initial migration: %v", err)
	}
	schema := string(raw)

	for _, want := range []string{
		"UNIQUE (author_handle, author_instance)",
		"UNIQUE (handle, instance, literature_id)",
		"UNIQUE (handle, instance, art_id)",
		"ON UPDATE CASCADE ON DELETE CASCADE",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("initial schema must declare %q", want)
		}
	}
}
