package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/fleetmon/internal/store"
	nt "github.com/loykin/fleetmon/internal/store/notion"
	pg "github.com/loykin/fleetmon/internal/store/postgres"
	sq "github.com/loykin/fleetmon/internal/store/sqlite"
)

// Config selects and configures a record store backend.
type Config struct {
	Type string // "notion", "postgres", "sqlite", "memory"; inferred from DSN when empty
	DSN  string // postgres DSN or sqlite path

	// Notion backend
	Token      string
	DatabaseID string
	BaseURL    string

	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds the store for cfg. Supported selections:
//   - type "notion" (token + database id)
//   - type "memory"
//   - DSN "postgres://..." / "postgresql://..."
//   - DSN "sqlite://<path>" or a bare filepath (treated as sqlite)
func New(cfg Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "notion":
		return nt.New(nt.Config{
			Token:      cfg.Token,
			DatabaseID: cfg.DatabaseID,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.Timeout,
			Logger:     cfg.Logger,
		})
	case "memory":
		return store.NewMemory(), nil
	case "postgres", "sqlite", "":
		// fall through to DSN selection
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	d := strings.TrimSpace(cfg.DSN)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("store: empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	// default to sqlite path
	return sq.New(d)
}
