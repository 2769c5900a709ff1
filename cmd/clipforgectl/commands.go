package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/reconcile"
	"github.com/kiranshivaraju/clipforge/internal/records"
	"github.com/kiranshivaraju/clipforge/internal/store"
	"github.com/kiranshivaraju/clipforge/pkg/formula"
	"github.com/kiranshivaraju/clipforge/pkg/models"
	"github.com/spf13/cobra"
)

type ticker interface {
	Tick(ctx context.Context) (models.TickSummary, error)
}

type jobGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type recordReader interface {
	GetRecord(ctx context.Context, table, id string) (*records.Record, error)
	FindRecords(ctx context.Context, table, filter string) ([]records.Record, error)
}

// backend is what the commands operate on once connected.
type backend struct {
	Ticker  ticker
	Jobs    jobGetter
	Records recordReader
	Fields  config.FieldMapping
	Close   func()
}

type connectFunc func(ctx context.Context) (*backend, error)

type migrateFunc func(ctx context.Context) error

func newRootCmd(connect connectFunc, migrate migrateFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "clipforgectl",
		Short:        "Operate the clipforge job reconciliation service",
		SilenceUsage: true,
	}
	root.AddCommand(reconcileCmd(connect))
	root.AddCommand(jobCmd(connect))
	root.AddCommand(recordCmd(connect))
	root.AddCommand(migrateCmd(migrate))
	return root
}

func reconcileCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation tick and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			summary, err := b.Ticker.Tick(cmd.Context())
			if errors.Is(err, reconcile.ErrTickInProgress) {
				return fmt.Errorf("another reconciliation tick is running, try again shortly")
			}
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func jobCmd(connect connectFunc) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Inspect jobs",
	}
	job.AddCommand(jobShowCmd(connect))
	return job
}

func jobShowCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			withRecord, _ := cmd.Flags().GetBool("record")

			b, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			j, err := b.Jobs.Get(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %s not found", id)
			}
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			if !withRecord {
				return writeJSON(cmd.OutOrStdout(), j)
			}

			out := jobWithRecord{Job: j}
			if !j.DependentRef.IsZero() {
				rec, err := b.Records.GetRecord(cmd.Context(), j.DependentRef.Table, j.DependentRef.RecordID)
				if err != nil {
					return fmt.Errorf("get dependent record: %w", err)
				}
				out.Record = rec
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Bool("record", false, "Also fetch the dependent record to compare it with the job")
	return cmd
}

type jobWithRecord struct {
	Job    *models.Job     `json:"job"`
	Record *records.Record `json:"record,omitempty"`
}

func recordCmd(connect connectFunc) *cobra.Command {
	record := &cobra.Command{
		Use:   "record",
		Short: "Inspect dependent records in the record store",
	}

	find := &cobra.Command{
		Use:   "find",
		Short: "List records of a table by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, _ := cmd.Flags().GetString("table")
			statuses, _ := cmd.Flags().GetStringSlice("status")
			missingOutput, _ := cmd.Flags().GetBool("missing-output")

			b, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			params := formula.StatusParams{StatusField: b.Fields.Status, Statuses: statuses}
			if missingOutput {
				params.BlankField = b.Fields.OutputURL
			}
			recs, err := b.Records.FindRecords(cmd.Context(), table, formula.Builder{}.BuildStatusQuery(params))
			if err != nil {
				return fmt.Errorf("find records: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	}
	find.Flags().String("table", "", "Table to search (e.g. Segments)")
	find.Flags().StringSlice("status", nil, "Status values to match; repeatable")
	find.Flags().Bool("missing-output", false, "Only records whose output URL field is empty")
	find.MarkFlagRequired("table")

	record.AddCommand(find)
	return record
}

func migrateCmd(migrate migrateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
