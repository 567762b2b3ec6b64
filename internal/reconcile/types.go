// Package reconcile implements the three-way reconciliation engine that is
// the heart of the sync system: given a local index, a remote
// index, and the index from the last successful sync, it computes a typed
// ChangeSet of operations that converge both replicas, then drives Apply to
// carry those operations out in an order that respects container/content and
// create/delete dependencies.
//
// Analysis walks an index/local/remote presence matrix and classifies every
// path into one of eight action categories, recorded as a typed value
// rather than dispatched dynamically.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Kind distinguishes a file Asset from a folder Asset.
type Kind string

// Asset kinds.
const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Links names the remote operation links carried by a remote Asset:
// download, upload, delete, move, new_folder.
type Links map[string]string

// Link names used as keys in an Asset's Links map.
const (
	LinkDownload  = "download"
	LinkUpload    = "upload"
	LinkDelete    = "delete"
	LinkMove      = "move"
	LinkNewFolder = "new_folder"
)

// Asset is the uniform record used across all three indices.
// Path is the primary key within a single Index: relative to the project
// root, forward-slash separated, no leading or trailing slash.
type Asset struct {
	Path         string
	Kind         Kind
	FullPath     string // local only: absolute path on disk
	Size         int64  // file only
	Digest       string // file only: hex digest under the project's chosen algorithm
	DateModified string // ISO-8601; folders: max of descendants (remote only)
	ID           string // remote only: opaque server identifier
	Links        Links  // remote only
}

// IsFile reports whether the asset is a file (as opposed to a folder).
func (a Asset) IsFile() bool { return a.Kind == KindFile }

// Index is a flat collection of Assets with a path-uniqueness invariant.
// It is kept as a slice (mirroring how both the
// local scanner and the remote tree walk naturally produce results) and
// turned into a path->Asset map only when the reconciler needs lookups.
type Index []Asset

// ErrDuplicatePath is a ConsistencyError: the same path appeared twice
// within one index.
type ErrDuplicatePath struct {
	Path string
}

func (e *ErrDuplicatePath) Error() string {
	return fmt.Sprintf("reconcile: consistency error: duplicate path %q in index", e.Path)
}

// ErrInvalidPath is a ConsistencyError: an asset's path is empty or "/".
type ErrInvalidPath struct {
	Path string
}

func (e *ErrInvalidPath) Error() string {
	return fmt.Sprintf("reconcile: consistency error: invalid path %q", e.Path)
}

// ByPath builds a path->Asset map from the index, validating the
// uniqueness and non-empty-path invariants.
func (idx Index) ByPath() (map[string]Asset, error) {
	m := make(map[string]Asset, len(idx))

	for _, a := range idx {
		if a.Path == "" || a.Path == "/" {
			return nil, &ErrInvalidPath{Path: a.Path}
		}

		if _, dup := m[a.Path]; dup {
			return nil, &ErrDuplicatePath{Path: a.Path}
		}

		m[a.Path] = a
	}

	return m, nil
}

// SortedPaths returns the index's paths in ascending lexical order.
func (idx Index) SortedPaths() []string {
	paths := make([]string, len(idx))
	for i, a := range idx {
		paths[i] = a.Path
	}

	sort.Strings(paths)

	return paths
}

// ActionKind is the tag of a single change-set entry. There is
// no *_index action: index mutation is a side effect of applying one of
// these, observed by Apply's bookkeeping.
type ActionKind int

// Action kinds, one per change-set category, listed in the fixed
// application order.
const (
	ActionAddLocal ActionKind = iota
	ActionAddRemote
	ActionMvLocal
	ActionMvRemote
	ActionUpdateLocal
	ActionUpdateRemote
	ActionDelLocal
	ActionDelRemote
)

// String returns the lower_snake_case label used in dry-run output and logs.
func (k ActionKind) String() string {
	switch k {
	case ActionAddLocal:
		return "add_local"
	case ActionAddRemote:
		return "add_remote"
	case ActionMvLocal:
		return "mv_local"
	case ActionMvRemote:
		return "mv_remote"
	case ActionUpdateLocal:
		return "update_local"
	case ActionUpdateRemote:
		return "update_remote"
	case ActionDelLocal:
		return "del_local"
	case ActionDelRemote:
		return "del_remote"
	default:
		return "unknown"
	}
}

// actionOrder is the fixed category order for Apply.
var actionOrder = []ActionKind{
	ActionAddLocal, ActionAddRemote,
	ActionMvLocal, ActionMvRemote,
	ActionUpdateLocal, ActionUpdateRemote,
	ActionDelLocal, ActionDelRemote,
}

// descendingOrder reports whether a category's paths should be visited in
// descending order during Apply: deepest-first for deletes and moves, so
// contents precede their containers on deletion.
func descendingOrder(k ActionKind) bool {
	switch k {
	case ActionMvLocal, ActionMvRemote, ActionDelLocal, ActionDelRemote:
		return true
	default:
		return false
	}
}

// Entry is one pending operation in a ChangeSet. Path is the map key the
// operation is stored under (the destination path for moves/adds). Asset
// carries the source data needed to perform the operation: for adds it is
// the asset on the *other* side being materialized; for moves it is the
// asset at its current (pre-move) location; for updates/deletes it is the
// asset describing what already exists.
type Entry struct {
	Path  string
	Asset Asset
}

// ChangeSet groups pending operations by ActionKind, keyed by target path
// within each kind. Alongside the operations it carries pure index
// bookkeeping (indexDrops, indexPuts): last-index corrections that require
// no filesystem or network work, folded in by Apply before any operation
// runs. Bookkeeping does not count toward Len or appear in DryRun.
type ChangeSet struct {
	runID   string
	entries map[ActionKind]map[string]Asset

	indexDrops []string
	indexPuts  []Asset
}

// NewChangeSet returns an empty ChangeSet with all eight categories
// initialized and a fresh run id, used to correlate one Analyze/Apply pass
// across log lines.
func NewChangeSet() *ChangeSet {
	cs := &ChangeSet{
		runID:   uuid.NewString(),
		entries: make(map[ActionKind]map[string]Asset, len(actionOrder)),
	}
	for _, k := range actionOrder {
		cs.entries[k] = make(map[string]Asset)
	}

	return cs
}

// RunID identifies this change set's sync pass, for correlating log lines
// and CLI output across one Analyze/Apply cycle.
func (cs *ChangeSet) RunID() string {
	return cs.runID
}

// Set records an operation of kind k targeting path, carrying asset.
func (cs *ChangeSet) Set(k ActionKind, path string, asset Asset) {
	cs.entries[k][path] = asset
}

// Get returns the map of path->Asset for the given kind.
func (cs *ChangeSet) Get(k ActionKind) map[string]Asset {
	return cs.entries[k]
}

// DropIndex records that path must be removed from the last-sync index: it
// was deleted on both sides since the last sync, so there is nothing to
// transfer but the stale entry must not survive the pass.
func (cs *ChangeSet) DropIndex(path string) {
	cs.indexDrops = append(cs.indexDrops, path)
}

// PutIndex records that asset must be inserted into the last-sync index
// without a transfer: the same content appeared on both sides out of band,
// so the index just needs to learn about it.
func (cs *ChangeSet) PutIndex(asset Asset) {
	cs.indexPuts = append(cs.indexPuts, asset)
}

// Len returns the total number of entries across all categories.
func (cs *ChangeSet) Len() int {
	n := 0
	for _, m := range cs.entries {
		n += len(m)
	}

	return n
}

// IsEmpty reports whether the change set has no pending operations.
func (cs *ChangeSet) IsEmpty() bool {
	return cs.Len() == 0
}

// Entries returns this kind's operations as a slice of Entry: ascending
// path order for add_local/add_remote/update_*, descending for mv_*/del_*
// so deepest paths are visited first.
func (cs *ChangeSet) Entries(k ActionKind) []Entry {
	m := cs.entries[k]
	paths := make([]string, 0, len(m))

	for p := range m {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	if descendingOrder(k) {
		for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
			paths[i], paths[j] = paths[j], paths[i]
		}
	}

	entries := make([]Entry, len(paths))
	for i, p := range paths {
		entries[i] = Entry{Path: p, Asset: m[p]}
	}

	return entries
}

// Categories returns the fixed application order used by Apply and DryRun.
func Categories() []ActionKind {
	out := make([]ActionKind, len(actionOrder))
	copy(out, actionOrder)

	return out
}

// DryRun returns the planned operations as "<action>: <path>" strings in
// application order, without performing any side effects.
func (cs *ChangeSet) DryRun() []string {
	var lines []string

	for _, k := range actionOrder {
		for _, e := range cs.Entries(k) {
			lines = append(lines, fmt.Sprintf("%s: %s", k, e.Path))
		}
	}

	return lines
}
