package reconcile

import "log/slog"

// Reconciler computes and applies change sets between a local and a remote
// index, using the index from the last successful sync as the common
// ancestor.
type Reconciler struct {
	logger *slog.Logger
}

// New returns a Reconciler. A nil logger falls back to slog.Default, matching
// the rest of this module's constructor-injected-logger convention.
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{logger: logger}
}

// Analyze computes the ChangeSet that reconciles local and remote against
// their common ancestor last, by classifying every path present in any of
// the three indices under the 3-bit (I,L,R) presence vector.
func (r *Reconciler) Analyze(local, remote, last Index) (*ChangeSet, error) {
	localByPath, err := local.ByPath()
	if err != nil {
		return nil, err
	}

	remoteByPath, err := remote.ByPath()
	if err != nil {
		return nil, err
	}

	lastByPath, err := last.ByPath()
	if err != nil {
		return nil, err
	}

	cs := NewChangeSet()
	r.logger.Debug("reconcile: analyzing", "run_id", cs.RunID(), "local", len(local), "remote", len(remote), "last", len(last))

	// Pass 1: paths known at the last sync (I=1). Handles rows 111, 100,
	// 101, 110. Matching entries are deleted from localByPath/remoteByPath
	// as they're resolved so the later passes only see paths unknown at
	// last sync.
	for p, idxAsset := range lastByPath {
		localAsset, inLocal := localByPath[p]
		remoteAsset, inRemote := remoteByPath[p]

		switch {
		case inLocal && inRemote:
			r.analyzeRow111(cs, p, idxAsset, localAsset, remoteAsset)
			delete(localByPath, p)
			delete(remoteByPath, p)

		case !inLocal && !inRemote:
			// row 100: deleted on both sides. Nothing to transfer, but the
			// stale index entry must go.
			cs.DropIndex(p)

		case !inLocal:
			r.analyzeRow101(cs, p, idxAsset, remoteAsset)
			delete(remoteByPath, p)

		case !inRemote:
			r.analyzeRow110(cs, p, idxAsset, localAsset)
			delete(localByPath, p)
		}
	}

	// Pass 2: paths unknown at last sync but present locally (I=0, L=1).
	// Handles rows 011 and 010. Remote matches are removed from
	// remoteByPath so pass 3 only sees genuinely remote-only paths.
	for p, localAsset := range localByPath {
		remoteAsset, inRemote := remoteByPath[p]
		if !inRemote {
			// row 010: created locally only.
			cs.Set(ActionAddRemote, p, localAsset)
			continue
		}

		// row 011: both sides created the same path independently. When
		// the contents agree (or it's a folder) the index just needs to
		// learn about it; the remote asset is recorded since it carries
		// the links later mutations need. Divergent contents are left
		// untouched rather than guessed at.
		if localAsset.Kind == KindFolder || localAsset.Digest == remoteAsset.Digest {
			cs.PutIndex(remoteAsset)
		}

		delete(remoteByPath, p)
	}

	// Pass 3: paths unknown at last sync and absent locally (I=0, L=0, R=1):
	// row 001, created remotely only.
	for p, remoteAsset := range remoteByPath {
		cs.Set(ActionAddLocal, p, remoteAsset)
	}

	return cs, nil
}

// analyzeRow111 handles the case where path existed at the last sync and
// still exists on both sides.
func (r *Reconciler) analyzeRow111(cs *ChangeSet, p string, idx, local, remote Asset) {
	if idx.Kind == KindFolder {
		// Folders carry no digest of their own; their contents are
		// reconciled path by path.
		return
	}

	localChanged := local.Digest != idx.Digest
	remoteChanged := remote.Digest != idx.Digest

	switch {
	case !localChanged && !remoteChanged:
		// All three agree.

	case localChanged && remoteChanged:
		localPath, remotePath := conflictPaths(p, local.DateModified, remote.DateModified)

		cs.Set(ActionMvLocal, localPath, local)
		cs.Set(ActionMvRemote, remotePath, remote)
		// Cross-upload the renamed copies so each side ends up with both
		// versions under their distinguishing names.
		cs.Set(ActionAddLocal, remotePath, remote)
		cs.Set(ActionAddRemote, localPath, local)

	case remoteChanged:
		cs.Set(ActionUpdateLocal, p, remote)

	case localChanged:
		// The remote counterpart carries the links (upload/move) needed
		// to perform the update; the local asset carries the new content.
		updated := local
		updated.Links = remote.Links
		updated.ID = remote.ID
		cs.Set(ActionUpdateRemote, p, updated)
	}
}

// analyzeRow101 handles a path deleted locally since the last sync but
// still present remotely.
func (r *Reconciler) analyzeRow101(cs *ChangeSet, p string, idx, remote Asset) {
	if idx.DateModified < remote.DateModified {
		// Remote changed after the last sync even though local deleted it:
		// resurrect under a renamed path instead of propagating the delete.
		newPath := recreatedPath(p)
		cs.Set(ActionAddLocal, newPath, remote)
		cs.Set(ActionMvRemote, newPath, remote)

		return
	}

	cs.Set(ActionDelRemote, p, remote)
}

// analyzeRow110 handles a path deleted remotely since the last sync but
// still present locally.
func (r *Reconciler) analyzeRow110(cs *ChangeSet, p string, idx, local Asset) {
	if idx.DateModified < local.DateModified {
		newPath := recreatedPath(p)
		cs.Set(ActionMvLocal, newPath, local)
		cs.Set(ActionAddRemote, newPath, local)

		return
	}

	cs.Set(ActionDelLocal, p, local)
}
