package storage

import (
	"context"
	"errors"
	"strings"

	logx "github.com/tyda-syda/sun/pkg/logx"
)

// Store is the minimal persistence API used by the dispatcher.
//
// Handles map replace keys to the last server-assigned notification ID so a
// restarted daemon updates the popups it left on screen instead of stacking
// new ones.
type Store interface {
	AppendNotification(ctx context.Context, rec NotificationRecord) error
	PutHandle(ctx context.Context, key string, id uint32) error
	DeleteHandle(ctx context.Context, key string) error
	Handles(ctx context.Context) (map[string]uint32, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
