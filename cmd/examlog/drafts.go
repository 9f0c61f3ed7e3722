package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/store"
)

func draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect and manage stored drafts",
	}
	cmd.AddCommand(draftsListCmd(), draftsShowCmd(), draftsDeleteCmd(), draftsClearCmd(), draftsExportCmd())
	return cmd
}

func draftsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts, most recently saved first",
		Args:  cobra.NoArgs,
		RunE:  runDraftsList,
	}
	cmd.Flags().String("date", "", "Only drafts last saved on this day (YYYY-MM-DD)")
	addStoreFlags(cmd)
	return cmd
}

func draftsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one draft as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runDraftsShow,
	}
	addStoreFlags(cmd)
	return cmd
}

func draftsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete drafts",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDraftsDelete,
	}
	addStoreFlags(cmd)
	return cmd
}

func draftsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every draft",
		Args:  cobra.NoArgs,
		RunE:  runDraftsClear,
	}
	cmd.Flags().Bool("yes", false, "Confirm deleting every draft")
	addStoreFlags(cmd)
	return cmd
}

func draftsExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every draft as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE:  runDraftsExport,
	}
	f := cmd.Flags()
	f.String("format", "json", "Output format (json, yaml)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(cmd)
	return cmd
}

func evictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Apply the draft eviction policy now",
		Args:  cobra.NoArgs,
		RunE:  runEvict,
	}
	addStoreFlags(cmd)
	return cmd
}

func runDraftsList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var opts store.ListOptions
	if date := v.GetString("date"); date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
		}
		opts.Day = &day
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	drafts, err := db.ListDrafts(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return writeDraftTable(cmd.OutOrStdout(), drafts)
}

func writeDraftTable(out io.Writer, drafts []model.Draft) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEXAM\tTEST\tLAST SAVED")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Form.ExamName, d.Form.TestName, d.LastTouched().Format(time.DateTime))
	}
	return tw.Flush()
}

func runDraftsShow(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	d, err := db.GetDraft(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("draft %s: %w", args[0], err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runDraftsDelete(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var errs []error
	for _, id := range args {
		outcome, err := db.DeleteDraft(cmd.Context(), id)
		switch {
		case err != nil:
			errs = append(errs, err)
		case outcome == store.DeleteNotFound:
			errs = append(errs, fmt.Errorf("draft %s: %w", id, store.ErrNotFound))
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
	}
	return errors.Join(errs...)
}

func runDraftsClear(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	if !v.GetBool("yes") {
		return errors.New("refusing to delete every draft without --yes")
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.ClearDrafts(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d drafts\n", n)
	return nil
}

func runDraftsExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportDrafts(cmd.Context())
	if err != nil {
		return fmt.Errorf("export drafts: %w", err)
	}
	data, err := encodeExport(export, v.GetString("format"))
	if err != nil {
		return err
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// encodeExport renders an export in the requested format. YAML keys match
// the JSON field names.
func encodeExport(export model.DraftExport, format string) ([]byte, error) {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal JSON: %w", err)
	}
	switch format {
	case "json", "":
		return append(data, '\n'), nil
	case "yaml", "yml":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("convert to YAML: %w", err)
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal YAML: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want json or yaml)", format)
	}
}

func runEvict(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	return evictNow(cmd.Context(), db, cmd.OutOrStdout())
}

func evictNow(ctx context.Context, db *store.Store, out io.Writer) error {
	res, err := db.Evict(ctx)
	fmt.Fprintf(out, "evicted %d drafts (%d over the count cap, %d too old)\n", res.Total(), len(res.ByCount), len(res.ByAge))
	return err
}
