package reconcile

import (
	"context"
	"fmt"
)

// Local is the subset of the Local Indexer that Apply drives
// directly: filesystem structure changes that don't move bytes over the
// network. Content transfer (materializing a downloaded file) is reached
// through Remote.Download, which writes straight to disk.
type Local interface {
	// CreateFolder creates the folder at relPath, including any missing
	// parents, and returns the resulting Asset.
	CreateFolder(ctx context.Context, relPath string) (Asset, error)
	// Rename moves the file or folder at oldRelPath to newRelPath.
	Rename(ctx context.Context, oldRelPath, newRelPath string) error
	// Delete removes the file or folder at relPath.
	Delete(ctx context.Context, relPath string) error
}

// Remote is the subset of the Remote Project that Apply
// drives: container creation, content transfer in both directions, renames,
// and deletes, each keyed by the asset describing the object being acted on.
type Remote interface {
	// CreateFolder creates the remote folder at relPath and returns its Asset.
	CreateFolder(ctx context.Context, relPath string) (Asset, error)
	// Upload creates or updates (update=true) a remote file at relPath from
	// the local asset's content, returning the resulting remote Asset.
	Upload(ctx context.Context, relPath string, local Asset, update bool) (Asset, error)
	// Download fetches remote's content and writes it to the local project
	// root at relPath, returning the resulting local Asset.
	Download(ctx context.Context, relPath string, remote Asset) (Asset, error)
	// Rename moves asset (as currently known to the remote) to newRelPath.
	Rename(ctx context.Context, asset Asset, newRelPath string) error
	// Delete removes asset from the remote.
	Delete(ctx context.Context, asset Asset) error
}

// StepError records the failure of a single apply step. It is always the
// last element reached by a given Apply call: a step failure stops the pass
// immediately, and every step that completed before it is still reflected
// in Result.Index.
type StepError struct {
	Action ActionKind
	Path   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("reconcile: apply %s %q: %v", e.Action, e.Path, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Result is the outcome of Apply: the updated last-sync index reflecting
// every step that completed before the pass stopped, and the step that
// stopped it, if any. Errors has at most one element.
type Result struct {
	Index  Index
	Errors []*StepError
}

// Apply executes cs's operations against local and remote in the fixed
// category/path order, folding each successful step
// into a running copy of last so the returned index reflects exactly the
// operations that completed. A step failure stops the pass immediately,
// leaving the remaining operations unexecuted: there is no automatic retry,
// the caller persists whatever last_index additions completed and lets the
// next sync reconcile from the new state.
func (r *Reconciler) Apply(ctx context.Context, cs *ChangeSet, local Local, remote Remote, last Index) *Result {
	lastByPath, err := last.ByPath()
	if err != nil {
		return &Result{Errors: []*StepError{{Err: err}}}
	}

	r.logger.Debug("reconcile: applying", "run_id", cs.RunID(), "operations", cs.Len())

	// Fold in pure bookkeeping first: it has no side effects to sequence
	// against, and it must land even when a later operation fails.
	for _, p := range cs.indexDrops {
		delete(lastByPath, p)
	}

	for _, a := range cs.indexPuts {
		lastByPath[a.Path] = a
	}

	for _, kind := range Categories() {
		for _, entry := range cs.Entries(kind) {
			if err := ctx.Err(); err != nil {
				return &Result{
					Index:  indexFromMap(lastByPath),
					Errors: []*StepError{{Action: kind, Path: entry.Path, Err: err}},
				}
			}

			if err := r.applyOne(ctx, kind, entry, local, remote, lastByPath); err != nil {
				r.logger.Warn("apply step failed, stopping pass", "action", kind.String(), "path", entry.Path, "error", err)

				return &Result{
					Index:  indexFromMap(lastByPath),
					Errors: []*StepError{{Action: kind, Path: entry.Path, Err: err}},
				}
			}
		}
	}

	return &Result{Index: indexFromMap(lastByPath), Errors: nil}
}

func indexFromMap(m map[string]Asset) Index {
	idx := make(Index, 0, len(m))
	for _, a := range m {
		idx = append(idx, a)
	}

	return idx
}

// applyOne performs a single change-set entry and folds its effect into
// lastByPath.
func (r *Reconciler) applyOne(ctx context.Context, kind ActionKind, entry Entry, local Local, remote Remote, lastByPath map[string]Asset) error {
	switch kind {
	case ActionAddLocal:
		return r.applyAddLocal(ctx, entry, local, remote, lastByPath)
	case ActionAddRemote:
		return r.applyAddRemote(ctx, entry, remote, lastByPath, false)
	case ActionMvLocal:
		return r.applyMvLocal(ctx, entry, local, lastByPath)
	case ActionMvRemote:
		return r.applyMvRemote(ctx, entry, remote, lastByPath)
	case ActionUpdateLocal:
		return r.applyUpdateLocal(ctx, entry, remote, lastByPath)
	case ActionUpdateRemote:
		return r.applyAddRemote(ctx, entry, remote, lastByPath, true)
	case ActionDelLocal:
		return r.applyDelLocal(ctx, entry, local, lastByPath)
	case ActionDelRemote:
		return r.applyDelRemote(ctx, entry, remote, lastByPath)
	default:
		return fmt.Errorf("reconcile: unknown action kind %v", kind)
	}
}

func (r *Reconciler) applyAddLocal(ctx context.Context, entry Entry, local Local, remote Remote, lastByPath map[string]Asset) error {
	if entry.Asset.Kind == KindFolder {
		asset, err := local.CreateFolder(ctx, entry.Path)
		if err != nil {
			return err
		}

		lastByPath[entry.Path] = asset

		return nil
	}

	asset, err := remote.Download(ctx, entry.Path, entry.Asset)
	if err != nil {
		return err
	}

	lastByPath[entry.Path] = asset

	return nil
}

func (r *Reconciler) applyAddRemote(ctx context.Context, entry Entry, remote Remote, lastByPath map[string]Asset, update bool) error {
	if entry.Asset.Kind == KindFolder {
		asset, err := remote.CreateFolder(ctx, entry.Path)
		if err != nil {
			return err
		}

		lastByPath[entry.Path] = asset

		return nil
	}

	asset, err := remote.Upload(ctx, entry.Path, entry.Asset, update)
	if err != nil {
		return err
	}

	lastByPath[entry.Path] = asset

	return nil
}

func (r *Reconciler) applyMvLocal(ctx context.Context, entry Entry, local Local, lastByPath map[string]Asset) error {
	oldPath := entry.Asset.Path

	if err := local.Rename(ctx, oldPath, entry.Path); err != nil {
		return err
	}

	moved := entry.Asset
	moved.Path = entry.Path
	moved.FullPath = ""
	lastByPath[entry.Path] = moved
	delete(lastByPath, oldPath)

	return nil
}

func (r *Reconciler) applyMvRemote(ctx context.Context, entry Entry, remote Remote, lastByPath map[string]Asset) error {
	oldPath := entry.Asset.Path

	if err := remote.Rename(ctx, entry.Asset, entry.Path); err != nil {
		return err
	}

	moved := entry.Asset
	moved.Path = entry.Path
	lastByPath[entry.Path] = moved
	delete(lastByPath, oldPath)

	return nil
}

func (r *Reconciler) applyUpdateLocal(ctx context.Context, entry Entry, remote Remote, lastByPath map[string]Asset) error {
	asset, err := remote.Download(ctx, entry.Path, entry.Asset)
	if err != nil {
		return err
	}

	lastByPath[entry.Path] = asset

	return nil
}

func (r *Reconciler) applyDelLocal(ctx context.Context, entry Entry, local Local, lastByPath map[string]Asset) error {
	if err := local.Delete(ctx, entry.Path); err != nil {
		return err
	}

	delete(lastByPath, entry.Path)

	return nil
}

func (r *Reconciler) applyDelRemote(ctx context.Context, entry Entry, remote Remote, lastByPath map[string]Asset) error {
	if err := remote.Delete(ctx, entry.Asset); err != nil {
		return err
	}

	delete(lastByPath, entry.Path)

	return nil
}
