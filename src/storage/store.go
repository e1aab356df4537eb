package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Keys of the blobs the relay keeps. Each key is one store kind and is
// always loaded and saved whole.
const (
	KeyConversations  = "p2p_conversations"
	KeyDialogSessions = "dialog_sessions"
)

// Backend names accepted by Open
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// ErrNotFound is returned by Load when nothing was saved under a key yet
var ErrNotFound = errors.New("blob not found")

// BlobStore persists opaque blobs under fixed keys. Implementations are
// safe for concurrent use, but a Load followed by a Save is not atomic;
// callers serialize their own read-modify-write cycles.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Open opens the store for backend rooted at dir
func Open(backend, dir string) (BlobStore, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStore(afero.NewOsFs(), dir), nil
	case BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "p2prelay.db"))
	case BackendBolt:
		return OpenBolt(filepath.Join(dir, "p2prelay.bolt"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
