package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/psychopy/osfsync/internal/config"
	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/localfs"
	"github.com/psychopy/osfsync/internal/project"
	"github.com/psychopy/osfsync/internal/reconcile"
	"github.com/psychopy/osfsync/internal/remote"
	"github.com/psychopy/osfsync/internal/transfer"
)

func newSyncCmd() *cobra.Command {
	var flagDryRun, flagWatch, flagForce bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a bidirectional sync pass",
		Long: `Reconcile the local project root against its OSF node, converging both
replicas toward the union of their changes since the last sync.

Use --dry-run to preview the planned operations without executing them, or
--watch to resync automatically whenever the local tree changes (polling a
resync on every trigger — it does not queue or batch changes beyond that).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagWatch, flagForce)
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "preview planned operations without executing them")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "resync automatically on local filesystem changes")
	cmd.Flags().BoolVar(&flagForce, "force", false, "override big-delete safety threshold")

	return cmd
}

func runSync(cmd *cobra.Command, watch, force bool) error {
	cc := mustCLIContext(cmd.Context())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !watch {
		return runSyncOnce(ctx, cc, force)
	}

	return runSyncWatch(ctx, cc, force)
}

// runSyncOnce performs exactly one reconcile-and-apply pass and reports the
// outcome. It is the body both a plain `sync` invocation and every trigger
// of `sync --watch` share.
func runSyncOnce(ctx context.Context, cc *CLIContext, force bool) error {
	cfg := cc.Cfg
	logger := cc.Logger

	if cfg.Sync.RootPath == "" {
		return fmt.Errorf("sync: root_path not configured — set sync.root_path in the config file or pass --root")
	}

	if cfg.Sync.ProjectID == "" || cfg.Sync.AccountID == "" {
		return fmt.Errorf("sync: project_id and account_id must be configured")
	}

	algo := digest.Algorithm(cfg.Remote.HashAlgo)

	sess, err := authenticatedSession(ctx, cfg, logger)
	if err != nil {
		return err
	}

	chunkSize, err := config.ChunkSizeBytes(cfg)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	localIndexer := localfs.New(cfg.Sync.RootPath, algo, false, logger)
	scheduler := transfer.New(sess.TransferClient(transferHTTPClient()), chunkSize, logger)
	remoteProj := remote.NewProject(sess, cfg.Sync.ProjectID, algo, scheduler, localIndexer, logger)

	proj, err := openProject(cfg)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	defer func() {
		if cerr := proj.Close(); cerr != nil {
			logger.Warn("sync: saving project file failed", "error", cerr)
		}
	}()

	localIdx, remoteIdx, err := rebuildIndices(ctx, localIndexer, remoteProj)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	reconciler := reconcile.New(logger)

	cs, err := reconciler.Analyze(localIdx, remoteIdx, proj.LastIndex())
	if err != nil {
		return fmt.Errorf("sync: analyzing changes: %w", err)
	}

	if err := reconciler.CheckSafety(cs, proj.LastIndex(), resolveSafetyConfig(force)); err != nil {
		return fmt.Errorf("sync: %w (rerun with --force to override)", err)
	}

	if cfg.Sync.DryRun {
		printDryRun(cs)
		return nil
	}

	result := reconciler.Apply(ctx, cs, localIndexer, remoteProj, proj.LastIndex())
	proj.SetLastIndex(result.Index)

	if len(result.Errors) > 0 {
		printSyncResult(cs, result)
		return fmt.Errorf("sync: %w", result.Errors[0])
	}

	printSyncResult(cs, result)

	return nil
}

// rebuildIndices rebuilds the local and remote indices concurrently: they
// are independent reads (one local disk walk, one remote tree walk) with no
// shared state, so running them on separate goroutines shortens the
// otherwise strictly-serial time a single sync pass spends just gathering
// state before any reconciliation can start.
func rebuildIndices(ctx context.Context, local *localfs.Indexer, remoteProj *remote.Project) (reconcile.Index, reconcile.Index, error) {
	var localIdx, remoteIdx reconcile.Index

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		idx, err := local.Rebuild(gctx)
		if err != nil {
			return fmt.Errorf("rebuilding local index: %w", err)
		}

		localIdx = idx

		return nil
	})

	g.Go(func() error {
		idx, err := remoteProj.RebuildIndex(gctx)
		if err != nil {
			return fmt.Errorf("rebuilding remote index: %w", err)
		}

		remoteIdx = idx

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return localIdx, remoteIdx, nil
}

// forceSafetyMax is the threshold used when --force is set, chosen well
// above any realistic project size so the check can never trigger.
const forceSafetyMax = math.MaxInt32

// resolveSafetyConfig returns the big-delete thresholds for this pass. When
// force is true, thresholds are set to max values (effectively disabled).
func resolveSafetyConfig(force bool) *reconcile.SafetyConfig {
	if force {
		return &reconcile.SafetyConfig{
			BigDeleteMinItems:   0,
			BigDeleteMaxCount:   forceSafetyMax,
			BigDeleteMaxPercent: float64(forceSafetyMax),
		}
	}

	return reconcile.DefaultSafetyConfig()
}

// authenticatedSession builds a Session and authenticates it with the token
// already saved for the configured account; sync
// never prompts for a password, only `login` does.
func authenticatedSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*remote.Session, error) {
	store := &fileTokenStore{path: config.DefaultTokenFilePath()}

	controlTimeout, err := config.ControlTimeout(cfg)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	dataTimeout, err := config.DataTimeout(cfg)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	sess := remote.NewSession(cfg.Remote.APIBaseURL, controlHTTPClient(), store, logger, dataTimeout, controlTimeout)

	if err := sess.AuthenticateWithToken(ctx, cfg.Sync.AccountID); err != nil {
		return nil, fmt.Errorf("sync: %w (run 'osf-sync login' first)", err)
	}

	return sess, nil
}

// openProject loads the project file for cfg's root, creating a fresh one
// bound to the configured identifiers if none is saved yet.
func openProject(cfg *config.Config) (*project.Project, error) {
	opts := project.Options{Path: config.DefaultProjectFilePath(cfg.Sync.RootPath)}

	proj, err := project.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("loading project file: %w", err)
	}

	if proj.ProjectID() == "" {
		name := filepath.Base(cfg.Sync.RootPath)
		proj = project.New(opts, cfg.Sync.RootPath, cfg.Sync.ProjectID, cfg.Sync.AccountID, name)
	}

	return proj, nil
}

// runSyncWatch runs an initial sync pass, then resyncs on every local
// filesystem change until ctx is cancelled. Each trigger still performs one
// complete reconcile-and-apply pass, never a partial one.
func runSyncWatch(ctx context.Context, cc *CLIContext, force bool) error {
	logger := cc.Logger

	if err := runSyncOnce(ctx, cc, force); err != nil {
		logger.Warn("sync: initial pass failed", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync --watch: starting filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, cc.Cfg.Sync.RootPath); err != nil {
		return fmt.Errorf("sync --watch: watching %s: %w", cc.Cfg.Sync.RootPath, err)
	}

	statusf("Watching %s for changes (Ctrl-C to stop)\n", cc.Cfg.Sync.RootPath)

	const debounce = 500 * time.Millisecond

	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			logger.Debug("sync --watch: local change", "path", event.Name, "op", event.Op.String())

			if pending == nil {
				pending = time.AfterFunc(debounce, func() {
					if err := runSyncOnce(ctx, cc, force); err != nil {
						logger.Warn("sync --watch: pass failed", "error", err)
					}
				})
			} else {
				pending.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("sync --watch: watcher error", "error", err)
		}
	}
}

// addRecursive registers every directory under root with watcher: fsnotify
// watches a single directory's direct entries, not a subtree.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return watcher.Add(path)
		}

		return nil
	})
}

func printDryRun(cs *reconcile.ChangeSet) {
	lines := cs.DryRun()

	if len(lines) == 0 {
		statusf("Already in sync.\n")
		return
	}

	statusf("Dry run [%s] — %d operations planned, none executed:\n", cs.RunID(), len(lines))

	for _, line := range lines {
		statusf("  %s\n", line)
	}
}

// syncJSONOutput is the JSON output schema for the sync command.
type syncJSONOutput struct {
	RunID   string   `json:"run_id"`
	Planned int      `json:"planned"`
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

func printSyncResult(cs *reconcile.ChangeSet, result *reconcile.Result) {
	if flagJSON {
		printSyncJSON(cs, result)
		return
	}

	if cs.IsEmpty() {
		statusf("Already in sync.\n")
		return
	}

	statusf("Sync complete [%s]: %d operations planned\n", cs.RunID(), cs.Len())

	for _, kind := range reconcile.Categories() {
		n := len(cs.Entries(kind))
		if n > 0 {
			statusf("  %-14s %d\n", kind.String(), n)
		}
	}

	for _, e := range result.Errors {
		statusf("  error: %v\n", e)
	}
}

func printSyncJSON(cs *reconcile.ChangeSet, result *reconcile.Result) {
	out := syncJSONOutput{RunID: cs.RunID(), Planned: cs.Len(), Applied: len(result.Index)}
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, e.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
