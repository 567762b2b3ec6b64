package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psychopy/osfsync/internal/config"
	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/localfs"
	"github.com/psychopy/osfsync/internal/reconcile"
	"github.com/psychopy/osfsync/internal/remote"
	"github.com/psychopy/osfsync/internal/transfer"
)

// conflictGroup gathers the copies left under one base path by a sync
// pass's conflict rename: every copy keeps
// its own content under a distinct "_CONFLICT<timestamp>" name, so a group
// can hold more than two members once more than one conflicting edit has
// happened to the same path across syncs.
type conflictGroup struct {
	Base    string
	Ext     string
	Members []reconcile.Asset
}

// conflictGroups scans idx for conflict- and deletion-rename markers and
// groups them by the base path they were renamed from. There is no
// persisted conflict queue in this design: a conflict is fully applied (both
// copies already exist on both replicas) the moment sync encounters it, so
// the only record of it afterward is the renamed paths themselves.
func conflictGroups(idx reconcile.Index) []conflictGroup {
	groups := map[string]*conflictGroup{}

	for _, a := range idx {
		stem, ext := digest.SplitStemExt(a.Path)

		var base string

		switch {
		case strings.Contains(stem, "_CONFLICT"):
			base = stem[:strings.Index(stem, "_CONFLICT")]
		case strings.Contains(stem, "_DELETED"):
			base = stem[:strings.Index(stem, "_DELETED")]
		default:
			continue
		}

		key := base + ext

		g, ok := groups[key]
		if !ok {
			g = &conflictGroup{Base: base, Ext: ext}
			groups[key] = g
		}

		g.Members = append(g.Members, a)
	}

	out := make([]conflictGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })

	return out
}

func newResolveCmd() *cobra.Command {
	var (
		flagKeep   string
		flagDryRun bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [--keep <conflict-path>]",
		Short: "List or collapse conflicts preserved by sync",
		Long: `A conflict never blocks a sync pass: when the same path changes on both
sides between syncs, sync preserves both edits under distinct
"_CONFLICT<timestamp>" names and moves on. Running resolve
with no flags lists every conflict group still present in the last sync's
index.

Pass one member of a group with --keep to collapse that group back to a
single file under its original name: every other member is deleted from
both the local root and the remote project, and the kept copy is renamed
back on both sides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd, flagKeep, flagDryRun)
		},
	}

	cmd.Flags().StringVar(&flagKeep, "keep", "", "path (as shown by resolve) of the conflict copy to keep")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "preview the resolution without executing it")

	return cmd
}

func runResolve(cmd *cobra.Command, keepPath string, dryRun bool) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	proj, err := openProject(cfg)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	defer func() {
		if cerr := proj.Close(); cerr != nil {
			cc.Logger.Warn("resolve: saving project file failed", "error", cerr)
		}
	}()

	idx := proj.LastIndex()
	groups := conflictGroups(idx)

	if keepPath == "" {
		printConflictGroups(groups)
		return nil
	}

	group, kept, ok := findConflictMember(groups, keepPath)
	if !ok {
		return fmt.Errorf("resolve: %q is not a known conflict copy (run 'osf-sync resolve' to list them)", keepPath)
	}

	discards := otherMembers(group, kept)

	if dryRun {
		printResolution(group, kept, discards)
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	newIdx, err := applyResolution(ctx, cfg, cc, idx, group, kept, discards)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	proj.SetLastIndex(newIdx)
	statusf("Resolved %s -> kept %s\n", group.Base+group.Ext, kept.Path)

	return nil
}

func findConflictMember(groups []conflictGroup, path string) (conflictGroup, reconcile.Asset, bool) {
	for _, g := range groups {
		for _, m := range g.Members {
			if m.Path == path {
				return g, m, true
			}
		}
	}

	return conflictGroup{}, reconcile.Asset{}, false
}

func otherMembers(g conflictGroup, kept reconcile.Asset) []reconcile.Asset {
	out := make([]reconcile.Asset, 0, len(g.Members)-1)

	for _, m := range g.Members {
		if m.Path != kept.Path {
			out = append(out, m)
		}
	}

	return out
}

// applyResolution deletes every discarded member from both replicas and
// renames kept back to its original path on both replicas, folding the
// result into idx.
func applyResolution(ctx context.Context, cfg *config.Config, cc *CLIContext, idx reconcile.Index, group conflictGroup, kept reconcile.Asset, discards []reconcile.Asset) (reconcile.Index, error) {
	algo := digest.Algorithm(cfg.Remote.HashAlgo)

	sess, err := authenticatedSession(ctx, cfg, cc.Logger)
	if err != nil {
		return nil, err
	}

	chunkSize, err := config.ChunkSizeBytes(cfg)
	if err != nil {
		return nil, err
	}

	localIndexer := localfs.New(cfg.Sync.RootPath, algo, false, cc.Logger)
	scheduler := transfer.New(sess.TransferClient(transferHTTPClient()), chunkSize, cc.Logger)
	remoteProj := remote.NewProject(sess, cfg.Sync.ProjectID, algo, scheduler, localIndexer, cc.Logger)

	byPath, err := idx.ByPath()
	if err != nil {
		return nil, err
	}

	for _, d := range discards {
		if err := localIndexer.Delete(ctx, d.Path); err != nil {
			return nil, fmt.Errorf("deleting local copy %s: %w", d.Path, err)
		}

		if err := remoteProj.Delete(ctx, d); err != nil {
			return nil, fmt.Errorf("deleting remote copy %s: %w", d.Path, err)
		}

		delete(byPath, d.Path)
	}

	newPath := group.Base + group.Ext

	if err := localIndexer.Rename(ctx, kept.Path, newPath); err != nil {
		return nil, fmt.Errorf("renaming local copy %s: %w", kept.Path, err)
	}

	if err := remoteProj.Rename(ctx, kept, newPath); err != nil {
		return nil, fmt.Errorf("renaming remote copy %s: %w", kept.Path, err)
	}

	delete(byPath, kept.Path)

	resolved := kept
	resolved.Path = newPath
	byPath[newPath] = resolved

	out := make(reconcile.Index, 0, len(byPath))
	for _, a := range byPath {
		out = append(out, a)
	}

	return out, nil
}

func printConflictGroups(groups []conflictGroup) {
	if len(groups) == 0 {
		fmt.Println("No unresolved conflicts.")
		return
	}

	fmt.Printf("%d conflict group(s):\n", len(groups))

	for _, g := range groups {
		fmt.Printf("  %s:\n", g.Base+g.Ext)

		for _, m := range g.Members {
			fmt.Printf("    %s (modified %s)\n", m.Path, m.DateModified)
		}
	}
}

func printResolution(g conflictGroup, kept reconcile.Asset, discards []reconcile.Asset) {
	statusf("Would keep %s as %s\n", kept.Path, g.Base+g.Ext)

	for _, d := range discards {
		statusf("Would delete %s from both replicas\n", d.Path)
	}
}
