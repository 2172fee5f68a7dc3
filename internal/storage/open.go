package storage

import (
	"strings"

	logx "kosha/pkg/logx"
)

// DefaultPath is used when Config.Path is empty.
const DefaultPath = "./kosha.db"

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(cfg Config, log logx.Logger) (*SQLite, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	return openSQLite(cfg, log)
}
