package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/image-publisher/internal/state"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var app string

	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "List recent publish runs, or show the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled (history.enabled=false)")
			}

			repo, closer, err := openRepository(cfg.History)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer closer.Close()

			if len(args) == 1 {
				publication, err := repo.FindPublication(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printPublication(cmd, publication)
			}

			publications, err := repo.ListPublications(cmd.Context(), app, limit)
			if err != nil {
				return err
			}

			totals, err := statusTotals(cmd, repo)
			if err != nil {
				return err
			}

			return printHistory(cmd, publications, totals)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().StringVar(&app, "app", "", "only show runs for this application")
	return cmd
}

// statusTotals summarizes the whole ledger for the listing caption
func statusTotals(cmd *cobra.Command, repo *state.Repository) (string, error) {
	parts := make([]string, 0, 3)
	for _, status := range []string{state.StatusPublished, state.StatusFailed, state.StatusRunning} {
		count, err := repo.CountPublicationsByStatus(cmd.Context(), status)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%d %s", count, strings.ToLower(status)))
	}
	return "All runs: " + strings.Join(parts, ", "), nil
}

func printHistory(cmd *cobra.Command, publications []state.Publication, totals string) error {
	if len(publications) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No publish runs recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"ID", "App", "Status", "Started", "Duration", "Image / Error"})

	for _, p := range publications {
		outcome := p.ImageURI
		if p.Status == state.StatusFailed {
			outcome = fmt.Sprintf("%s: %s", p.FailedStep, firstLine(p.Error))
		}

		duration := "-"
		if p.CompletedAt != nil {
			duration = p.Duration().Round(100 * time.Millisecond).String()
		}

		t.AppendRow(table.Row{
			p.ID.String()[:8],
			p.AppName,
			p.Status,
			humanize.Time(p.StartedAt),
			duration,
			outcome,
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, AutoMerge: true},
	})
	t.SetCaption("%s", totals)
	t.SetStyle(historyStyle())
	t.Render()

	return nil
}

func printPublication(cmd *cobra.Command, p *state.Publication) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "ID:       %s\n", p.ID)
	fmt.Fprintf(out, "App:      %s:%s (%s)\n", p.AppName, p.Tag, p.Region)
	fmt.Fprintf(out, "Status:   %s\n", p.Status)
	fmt.Fprintf(out, "Started:  %s (%s)\n", p.StartedAt.Format(time.RFC3339), humanize.Time(p.StartedAt))
	if p.CompletedAt != nil {
		fmt.Fprintf(out, "Duration: %s\n", p.Duration().Round(100*time.Millisecond))
	}
	switch p.Status {
	case state.StatusPublished:
		fmt.Fprintf(out, "Image:    %s\n", p.ImageURI)
	case state.StatusFailed:
		fmt.Fprintf(out, "Failed:   %s\n", p.FailedStep)
		fmt.Fprintf(out, "Error:    %s\n", p.Error)
	}

	if len(p.Steps) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Step", "At", "Detail"})
	for _, step := range p.Steps {
		t.AppendRow(table.Row{step.Step, step.CreatedAt.Format(time.TimeOnly), firstLine(step.Detail)})
	}
	t.SetStyle(historyStyle())
	t.Render()

	return nil
}

func historyStyle() table.Style {
	style := table.StyleLight
	style.Options.DrawBorder = false
	return style
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
