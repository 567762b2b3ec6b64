package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psychopy/osfsync/internal/config"
	"github.com/psychopy/osfsync/internal/remote"
)

// newProjectsCmd looks up a user's OSF projects by display name, so a user
// can find the project_id to put in sync.project_id before their first sync.
func newProjectsCmd() *cobra.Command {
	var flagUser string

	cmd := &cobra.Command{
		Use:   "projects --user <full-name>",
		Short: "List an OSF account's projects by display name",
		Long: `Look up an OSF account by its display name and list the top-level
projects it owns, so the project_id can be copied into a project file.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjects(cmd, flagUser)
		},
	}

	cmd.Flags().StringVar(&flagUser, "user", "", "account display name to look up (required)")

	if err := cmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}

	return cmd
}

func runProjects(cmd *cobra.Command, fullName string) error {
	logger := buildLogger(nil)

	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("projects: loading config: %w", err)
	}

	controlTimeout, err := config.ControlTimeout(cfg)
	if err != nil {
		return fmt.Errorf("projects: %w", err)
	}

	dataTimeout, err := config.DataTimeout(cfg)
	if err != nil {
		return fmt.Errorf("projects: %w", err)
	}

	sess := remote.NewSession(cfg.Remote.APIBaseURL, controlHTTPClient(), nil, logger, dataTimeout, controlTimeout)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	user, err := sess.FindUser(ctx, fullName)
	if err != nil {
		return fmt.Errorf("projects: %w", err)
	}

	list, err := sess.ListUserProjects(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("projects: %w", err)
	}

	if flagJSON {
		return printProjectsJSON(user, list)
	}

	printProjectsTable(user, list)

	return nil
}

type projectsJSONOutput struct {
	UserID   string                  `json:"user_id"`
	FullName string                  `json:"full_name"`
	Projects []remote.ProjectSummary `json:"projects"`
}

func printProjectsJSON(user remote.UserSummary, list []remote.ProjectSummary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(projectsJSONOutput{UserID: user.ID, FullName: user.FullName, Projects: list})
}

func printProjectsTable(user remote.UserSummary, list []remote.ProjectSummary) {
	statusf("%s (user %s)\n", user.FullName, user.ID)

	if len(list) == 0 {
		statusf("  no projects found\n")
		return
	}

	for _, p := range list {
		statusf("  %s  %s\n", p.ID, p.Title)
	}
}
