package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/psychopy/osfsync/internal/reconcile"
)

// CreateFolder creates relPath (and any missing parents) under the
// indexer's root and returns the resulting Asset. It satisfies
// reconcile.Local.
func (ix *Indexer) CreateFolder(_ context.Context, relPath string) (reconcile.Asset, error) {
	full := filepath.Join(ix.root, relPath)

	if err := os.MkdirAll(full, 0o755); err != nil {
		return reconcile.Asset{}, fmt.Errorf("localfs: creating folder %q: %w", relPath, err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return reconcile.Asset{}, fmt.Errorf("localfs: stating new folder %q: %w", relPath, err)
	}

	ix.logger.Debug("localfs: created folder", "path", relPath)

	return reconcile.Asset{
		Path:         relPath,
		Kind:         reconcile.KindFolder,
		FullPath:     full,
		DateModified: formatModTime(info),
	}, nil
}

// Rename moves the file or folder at oldRelPath to newRelPath, creating
// newRelPath's parent directory if needed. It satisfies reconcile.Local.
func (ix *Indexer) Rename(_ context.Context, oldRelPath, newRelPath string) error {
	oldFull := filepath.Join(ix.root, oldRelPath)
	newFull := filepath.Join(ix.root, newRelPath)

	if err := os.MkdirAll(filepath.Dir(newFull), 0o755); err != nil {
		return fmt.Errorf("localfs: creating parent for %q: %w", newRelPath, err)
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		return fmt.Errorf("localfs: renaming %q to %q: %w", oldRelPath, newRelPath, err)
	}

	ix.logger.Debug("localfs: renamed", "from", oldRelPath, "to", newRelPath)

	return nil
}

// Delete removes the file or folder at relPath. A folder is removed
// recursively: by the time Apply reaches a del_local entry for a folder,
// every surviving descendant has already been reconciled under its own
// path, so nothing of value remains beneath it.
func (ix *Indexer) Delete(_ context.Context, relPath string) error {
	full := filepath.Join(ix.root, relPath)

	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("localfs: deleting %q: %w", relPath, err)
	}

	ix.logger.Debug("localfs: deleted", "path", relPath)

	return nil
}

// FullPath returns the absolute filesystem path for relPath under the
// indexer's root. Used by the Remote Project's download path to materialize
// fetched content without duplicating the indexer's own path-resolution
// logic.
func (ix *Indexer) FullPath(relPath string) string {
	return filepath.Join(ix.root, relPath)
}
