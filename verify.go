package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/psychopy/osfsync/internal/config"
	"github.com/psychopy/osfsync/internal/digest"
	"github.com/psychopy/osfsync/internal/localfs"
	"github.com/psychopy/osfsync/internal/reconcile"
	"github.com/psychopy/osfsync/internal/remote"
	"github.com/psychopy/osfsync/internal/transfer"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Audit the last-sync index against current local and remote content",
		Long: `Rebuild both the local and remote indices and compare them against the
index recorded at the end of the last successful sync, reporting any file
missing from one side or whose digest has drifted since (a tamper or
out-of-band edit that the next sync pass hasn't seen yet).

Exit code 0 if everything verifies; exit code 1 if any mismatches are found.`,
		RunE: runVerify,
	}
}

// verifyMismatch is one file whose recorded baseline no longer matches
// what's actually on one of the replicas.
type verifyMismatch struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// verifyReport is the JSON/text output schema for the verify command.
type verifyReport struct {
	Verified   int              `json:"verified"`
	Mismatches []verifyMismatch `json:"mismatches,omitempty"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if cfg.Sync.RootPath == "" {
		return fmt.Errorf("verify: root_path not configured — set sync.root_path in the config file or pass --root")
	}

	report, err := runVerifyChecks(cmd.Context(), cfg, cc.Logger)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if flagJSON {
		if err := printVerifyJSON(report); err != nil {
			return err
		}
	} else {
		printVerifyTable(report)
	}

	if len(report.Mismatches) > 0 {
		os.Exit(1)
	}

	return nil
}

// runVerifyChecks rebuilds the local and remote indices and diffs them
// against the project's recorded last-sync index.
func runVerifyChecks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*verifyReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	algo := digest.Algorithm(cfg.Remote.HashAlgo)

	sess, err := authenticatedSession(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	chunkSize, err := config.ChunkSizeBytes(cfg)
	if err != nil {
		return nil, err
	}

	localIndexer := localfs.New(cfg.Sync.RootPath, algo, false, logger)
	scheduler := transfer.New(sess.TransferClient(transferHTTPClient()), chunkSize, logger)
	remoteProj := remote.NewProject(sess, cfg.Sync.ProjectID, algo, scheduler, localIndexer, logger)

	proj, err := openProject(cfg)
	if err != nil {
		return nil, err
	}

	localIdx, remoteIdx, err := rebuildIndices(ctx, localIndexer, remoteProj)
	if err != nil {
		return nil, err
	}

	return compareIndices(proj.LastIndex(), localIdx, remoteIdx)
}

// compareIndices reports every file baselined in last that is missing from
// local or remote, or whose digest no longer agrees with the baseline.
// Folders carry no digest of their own and are skipped.
func compareIndices(last, local, remote reconcile.Index) (*verifyReport, error) {
	lastByPath, err := last.ByPath()
	if err != nil {
		return nil, err
	}

	localByPath, err := local.ByPath()
	if err != nil {
		return nil, err
	}

	remoteByPath, err := remote.ByPath()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(lastByPath))
	for p := range lastByPath {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	report := &verifyReport{}

	for _, p := range paths {
		baseline := lastByPath[p]
		if baseline.Kind == reconcile.KindFolder {
			continue
		}

		l, inLocal := localByPath[p]
		r, inRemote := remoteByPath[p]

		switch {
		case !inLocal:
			report.Mismatches = append(report.Mismatches, verifyMismatch{Path: p, Status: "missing_local"})
		case !inRemote:
			report.Mismatches = append(report.Mismatches, verifyMismatch{Path: p, Status: "missing_remote"})
		case l.Digest != baseline.Digest:
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path: p, Status: "local_digest_mismatch", Expected: baseline.Digest, Actual: l.Digest,
			})
		case r.Digest != baseline.Digest:
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path: p, Status: "remote_digest_mismatch", Expected: baseline.Digest, Actual: r.Digest,
			})
		default:
			report.Verified++
		}
	}

	return report, nil
}

func printVerifyJSON(report *verifyReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printVerifyTable(report *verifyReport) {
	fmt.Printf("Verified: %d files\n", report.Verified)

	if len(report.Mismatches) == 0 {
		fmt.Println("All files verified successfully.")
		return
	}

	fmt.Printf("Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i := range report.Mismatches {
		m := &report.Mismatches[i]
		rows[i] = []string{m.Path, m.Status, m.Expected, m.Actual}
	}

	printTable(os.Stdout, headers, rows)
}
