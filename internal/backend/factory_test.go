package backend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"saldo/internal/config"
	"saldo/internal/log"
)

func testFactory() Factory {
	return NewFactory(log.New(log.Config{Output: io.Discard}))
}

func TestCreateMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	seed := `[{"id":"cash","type":"CASH"}]`
	if err := os.WriteFile(filepath.Join(dir, "accounts.json"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := testFactory().CreateBackend(context.Background(), Config{Type: MemoryBackend, DataDirectory: dir})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer res.Close()

	accounts, err := res.Store.ListAccounts(context.Background())
	if err != nil || len(accounts) != 1 {
		t.Fatalf("accounts = %v, err = %v", accounts, err)
	}
	if res.Publisher != nil || res.Ready != nil {
		t.Errorf("memory backend has no publisher or readiness probe")
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	res, err := testFactory().CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if err := res.Ready(context.Background()); err != nil {
		t.Errorf("ready: %v", err)
	}
	if res.Publisher != nil {
		t.Errorf("publisher must be nil without AMQP_URL")
	}
	if err := res.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "postgres"}},
		{"sqlite without path", Config{Type: SQLiteBackend}},
		{"sheets without id", Config{Type: SheetsBackend, GoogleServiceAccountJSON: "{}"}},
		{"sheets without credentials", Config{Type: SheetsBackend, GoogleSpreadsheetID: "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := testFactory().CreateBackend(context.Background(), tt.cfg); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Errorf("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "csv"}); err == nil {
		t.Errorf("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:          "sheets",
		GoogleSpreadsheetID:  "sheet-1",
		GoogleSnapshotsSheet: "Saldi",
		DataDir:              "/srv/data",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != SheetsBackend || cfg.GoogleSpreadsheetID != "sheet-1" || cfg.GoogleSnapshotsSheet != "Saldi" || cfg.DataDirectory != "/srv/data" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
