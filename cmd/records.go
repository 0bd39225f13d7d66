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
	"go.uber.org/zap"

	"github.com/platewatch/platewatch/internal/model"
	"github.com/platewatch/platewatch/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect persisted detection records",
	Long:  "Commands for listing and viewing detection records from the primary store.",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List detection records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		plate, _ := cmd.Flags().GetString("plate")
		trackID, _ := cmd.Flags().GetString("track")
		status, _ := cmd.Flags().GetString("status")
		minConf, _ := cmd.Flags().GetFloat64("min-confidence")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := store.RecordFilter{
			Plate:         plate,
			TrackID:       trackID,
			Status:        model.RecordStatus(status),
			MinConfidence: minConf,
			Limit:         limit,
			Offset:        offset,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		records, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, records)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show full details of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- records import --

var recordsImportCmd = &cobra.Command{
	Use:   "import <session.jsonl>",
	Short: "Import a session export file into the primary store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, evidence, err := store.ReadExport(args[0])
		if err != nil {
			return eris.Wrap(err, "records import")
		}

		// Postgres loads the batch in one COPY; other drivers upsert.
		if bulk, ok := st.(store.BulkInserter); ok {
			if _, err := bulk.BulkInsertRecords(ctx, records); err != nil {
				return eris.Wrap(err, "records import")
			}
		} else {
			for i := range records {
				if err := st.UpsertRecord(ctx, &records[i]); err != nil {
					return eris.Wrapf(err, "records import: %s", records[i].ID)
				}
			}
		}

		for i := range evidence {
			if err := st.PutEvidence(ctx, &evidence[i]); err != nil {
				return eris.Wrapf(err, "records import: evidence %s", evidence[i].ID)
			}
		}

		zap.L().Info("export imported",
			zap.String("file", args[0]),
			zap.Int("records", len(records)),
			zap.Int("evidence", len(evidence)))
		fmt.Printf("imported %d records, %d evidence entries\n", len(records), len(evidence))
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("plate", "", "filter by exact plate text")
	recordsListCmd.Flags().String("track", "", "filter by track ID")
	recordsListCmd.Flags().String("status", "", "filter by record status (active, finalized)")
	recordsListCmd.Flags().Float64("min-confidence", 0, "only records at or above this confidence")
	recordsListCmd.Flags().Duration("since", 0, "only records newer than this (e.g. 24h)")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")
	recordsListCmd.Flags().Int("offset", 0, "number of records to skip")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)
}

// formatRecordsList writes a tabular list of records to w.
func formatRecordsList(out io.Writer, records []model.DetectionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPLATE\tCONF\tSTATUS\tTRACK\tSEEN")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t------\t-----\t----")

	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Plate,
			r.Confidence,
			r.Status,
			truncateID(r.TrackID),
			r.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
