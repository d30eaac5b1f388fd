package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mortdiggiddy/video-translator/internal/api"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		sourceLang string
		targetLang string
		wantVideo  bool
		burnIn     bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "start <media-file>",
		Short: "Submit a media file for translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			created, err := client.StartRun(cmd.Context(), api.StartRunRequest{
				MediaPath:  args[0],
				SourceLang: sourceLang,
				TargetLang: targetLang,
				WantVideo:  wantVideo || burnIn,
				BurnInSubs: burnIn,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s submitted (%s -> %s)\n",
				created.ID, orAuto(created.SourceLang), created.TargetLang)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language (code or name, required)")
	cmd.Flags().StringVarP(&sourceLang, "source", "s", "", "Source language (default: auto-detect)")
	cmd.Flags().BoolVar(&wantVideo, "video", false, "Produce a subtitled output video")
	cmd.Flags().BoolVar(&burnIn, "burn-in", false, "Burn subtitles into the picture (implies --video)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			runs, err := client.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs.")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID,
					truncatePath(r.MediaPath, 40),
					orAuto(r.SourceLang) + " -> " + r.TargetLang,
					r.Status,
					formatAge(r.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "MEDIA", "LANGUAGES", "STATUS", "UPDATED"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:       %s\n", view.ID)
			fmt.Fprintf(out, "Media:     %s\n", view.MediaPath)
			fmt.Fprintf(out, "Languages: %s -> %s\n", orAuto(view.SourceLang), view.TargetLang)
			fmt.Fprintf(out, "Status:    %s\n", view.Status)
			if view.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     [%s] %s\n", view.ErrorKind, view.ErrorMessage)
			}
			if view.Result != nil {
				fmt.Fprintf(out, "Artifacts: %s\n", view.Result.ArtifactsDir)
				if view.Result.Summary != "" {
					fmt.Fprintf(out, "Summary:   %s\n", view.Result.Summary)
				}
				for _, point := range view.Result.KeyPoints {
					fmt.Fprintf(out, "  - %s\n", point)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "progress <run-id>",
		Short: "Show a run's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			stage := view.StageName
			if stage == "" {
				stage = fmt.Sprintf("stage %d", view.StageOrdinal)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %5.1f%%  %s (%s)\n",
				view.RunID, view.PercentComplete, view.Status, stage)
			if view.ErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "error: [%s] %s\n", view.ErrorKind, view.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove finished runs and their checkpoints from the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			result, err := client.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", result.Removed)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:  running\n")
			fmt.Fprintf(out, "Store:   %s\n", view.StorePath)
			for _, status := range []string{"pending", "running", "completed", "failed", "cancelled"} {
				if n := view.Counts[status]; n > 0 {
					fmt.Fprintf(out, "%-10s %d\n", status+":", n)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func orAuto(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "auto"
	}
	return lang
}

func truncatePath(path string, max int) string {
	if len(path) <= max {
		return path
	}
	return "..." + path[len(path)-max+3:]
}

func formatAge(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	age := time.Since(ts).Round(time.Second)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
