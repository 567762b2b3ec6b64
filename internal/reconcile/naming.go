package reconcile

import "github.com/psychopy/osfsync/internal/digest"

// conflictPaths returns the renamed paths for a 111-row conflict: the local
// copy keeps its own modification time in the tag, the remote copy keeps
// its own, so the two names differ even though neither side knows about
// the other's clock.
func conflictPaths(p, localTime, remoteTime string) (localPath, remotePath string) {
	stem, ext := digest.SplitStemExt(p)

	if localTime == remoteTime {
		return stem + "_CONFLICT" + localTime + "_LOCAL" + ext,
			stem + "_CONFLICT" + remoteTime + "_REMOTE" + ext
	}

	return stem + "_CONFLICT" + localTime + ext,
		stem + "_CONFLICT" + remoteTime + ext
}

// recreatedPath returns the renamed path used to resurrect a file that was
// deleted on one side but modified on the other since the last sync.
func recreatedPath(p string) string {
	stem, ext := digest.SplitStemExt(p)

	return stem + "_DELETED" + ext
}
