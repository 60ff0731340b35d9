package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lenmed/importer/internal/config"
	"github.com/lenmed/importer/internal/store"
	"github.com/lenmed/importer/internal/store/rest"
	"github.com/lenmed/importer/internal/store/sqlite"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		check   func(t *testing.T, b store.Backend)
		wantErr string
	}{
		{
			name: "rest",
			cfg: config.Config{
				Import: config.ImportConfig{Backend: "REST"},
				Remote: config.RemoteConfig{URL: "https://x.supabase.co", AnonKey: "k", Timeout: time.Second, PageSize: 10},
			},
			check: func(t *testing.T, b store.Backend) {
				if _, ok := b.(*rest.Client); !ok {
					t.Errorf("Open() = %T, want *rest.Client", b)
				}
			},
		},
		{
			name: "sqlite",
			cfg: config.Config{
				Import: config.ImportConfig{Backend: config.BackendSQLite},
				SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "import.db")},
			},
			check: func(t *testing.T, b store.Backend) {
				if _, ok := b.(*sqlite.Store); !ok {
					t.Errorf("Open() = %T, want *sqlite.Store", b)
				}
			},
		},
		{
			name:    "unknown",
			cfg:     config.Config{Import: config.ImportConfig{Backend: "mysql"}},
			wantErr: "unknown backend",
		},
		{
			name: "postgres bad url",
			cfg: config.Config{
				Import:   config.ImportConfig{Backend: config.BackendPostgres},
				Database: config.DatabaseConfig{URL: "postgres://u:p@localhost:notaport/db", MaxConns: 1},
			},
			wantErr: "open postgres backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(context.Background(), &tt.cfg)
			if tt.wantErr != "" {
				if err == nil {
					b.Close()
					t.Fatalf("Open() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Open() error = %q, want it to contain %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer b.Close()
			tt.check(t, b)
		})
	}
}
