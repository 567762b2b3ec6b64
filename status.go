package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psychopy/osfsync/internal/config"
	"github.com/psychopy/osfsync/internal/project"
	"github.com/psychopy/osfsync/internal/reconcile"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last-sync state of the configured project",
		Long: `Display the configured local root, remote project and account, and a
summary of the index recorded at the end of the last successful sync.`,
		RunE: runStatus,
	}
}

// statusReport is the JSON/text output schema for the status command.
type statusReport struct {
	RootPath   string `json:"root_path"`
	ProjectID  string `json:"project_id"`
	AccountID  string `json:"account_id"`
	Name       string `json:"name,omitempty"`
	LastSynced string `json:"last_synced"`
	Files      int    `json:"files"`
	Folders    int    `json:"folders"`
	Conflicts  int    `json:"conflicts"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if cfg.Sync.RootPath == "" {
		fmt.Println("No project configured. Set sync.root_path, sync.project_id, and sync.account_id.")
		return nil
	}

	path := config.DefaultProjectFilePath(cfg.Sync.RootPath)

	proj, err := project.Load(project.Options{Path: path, Logger: cc.Logger})
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	report := buildStatusReport(cfg, proj, path)

	if flagJSON {
		return printStatusJSON(report)
	}

	printStatusText(report)

	return nil
}

func buildStatusReport(cfg *config.Config, proj *project.Project, path string) statusReport {
	idx := proj.LastIndex()

	report := statusReport{
		RootPath:   cfg.Sync.RootPath,
		ProjectID:  cfg.Sync.ProjectID,
		AccountID:  cfg.Sync.AccountID,
		Name:       proj.Name(),
		LastSynced: formatTime(projectFileModTime(path)),
	}

	for _, a := range idx {
		switch a.Kind {
		case reconcile.KindFile:
			report.Files++
		case reconcile.KindFolder:
			report.Folders++
		}
	}

	report.Conflicts = countConflicts(idx)

	return report
}

func printStatusJSON(report statusReport) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(report statusReport) {
	label := report.RootPath
	if report.Name != "" {
		label = fmt.Sprintf("%s (%s)", report.Name, report.RootPath)
	}

	fmt.Printf("Project: %s\n", label)
	fmt.Printf("  Remote:      project %s, account %s\n", report.ProjectID, report.AccountID)
	fmt.Printf("  Last synced: %s\n", report.LastSynced)
	fmt.Printf("  Files:       %d\n", report.Files)
	fmt.Printf("  Folders:     %d\n", report.Folders)

	if report.Conflicts > 0 {
		fmt.Printf("  Conflicts:   %d (run 'osf-sync resolve' to list)\n", report.Conflicts)
	}
}

func projectFileModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}

	return info.ModTime()
}

// countConflicts counts index entries left over from an unresolved conflict
// or resurrection, identified by the naming markers sync applies instead of
// overwriting either side.
func countConflicts(idx reconcile.Index) int {
	n := 0

	for _, a := range idx {
		if strings.Contains(a.Path, "_CONFLICT") || strings.Contains(a.Path, "_DELETED") {
			n++
		}
	}

	return n
}
