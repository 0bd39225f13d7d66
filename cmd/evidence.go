package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/platewatch/platewatch/internal/model"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect recorded video evidence",
	Long:  "Commands for listing, viewing, and archiving annotated evidence clips.",
}

// -- evidence list --

var evidenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence clips",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")

		clips, err := st.ListEvidence(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "evidence list")
		}

		if len(clips) == 0 {
			fmt.Fprintln(os.Stderr, "No evidence found.")
			return nil
		}

		formatEvidenceList(os.Stdout, clips)
		return nil
	},
}

// -- evidence show --

var evidenceShowCmd = &cobra.Command{
	Use:   "show <evidence-id>",
	Short: "Show full details of an evidence clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ev, err := st.GetEvidence(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "evidence show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ev)
	},
}

// -- evidence archive --

var evidenceArchiveCmd = &cobra.Command{
	Use:   "archive <evidence-id>",
	Short: "Mark an evidence clip as archived",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.MarkEvidenceArchived(ctx, args[0]); err != nil {
			return eris.Wrap(err, "evidence archive")
		}

		fmt.Printf("archived %s\n", args[0])
		return nil
	},
}

func init() {
	evidenceListCmd.Flags().Int("limit", 50, "max number of clips to display")

	evidenceCmd.AddCommand(evidenceListCmd)
	evidenceCmd.AddCommand(evidenceShowCmd)
	evidenceCmd.AddCommand(evidenceArchiveCmd)
	rootCmd.AddCommand(evidenceCmd)
}

// formatEvidenceList writes a tabular list of evidence clips to w.
func formatEvidenceList(out io.Writer, clips []model.VideoEvidence) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSIZE\tRECORDS\tARCHIVED")
	_, _ = fmt.Fprintln(w, "--\t-------\t--------\t----\t-------\t--------")

	for _, ev := range clips {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\n",
			truncateID(ev.ID),
			ev.StartedAt.Format("2006-01-02 15:04:05"),
			ev.Duration.Round(time.Second),
			formatBytes(ev.SizeBytes),
			len(ev.RecordIDs),
			ev.Archived,
		)
	}
	_ = w.Flush()
}

// formatBytes renders a byte count in a compact human unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
