package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/ember/internal/engine"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run a decay sweep now",
	RunE:  runDecay,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Seed heat for imported memories that have none",
	RunE:  runBackfill,
}

var importCmd = &cobra.Command{
	Use:   "import [file.json]",
	Short: "Import memories from a JSON array (use - for stdin)",
	Long: "Import memories from another system. Each record needs content and may carry " +
		"id, source, client, project, pinned and created_at. Imported memories get heat " +
		"from their age on the next backfill.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every memory with the current embedder",
	RunE:  runReindex,
}

var importNoBackfill bool

func init() {
	importCmd.Flags().BoolVar(&importNoBackfill, "no-backfill", false, "Leave imported memories without heat")
}

func runDecay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Decay(ctx)
	if report != nil {
		// A partial sweep still reports what it did.
		err = errors.Join(err, printDecay(report))
	}
	return err
}

func printDecay(r *engine.SweepReport) error {
	if jsonOutput {
		return printJSON(r)
	}
	fmt.Printf("Decay: scanned %d, decayed %d, failed %d in %s\n",
		r.Scanned, r.Decayed, r.Failed, r.Duration)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Backfill(ctx)
	if report != nil {
		err = errors.Join(err, printBackfill(report))
	}
	return err
}

func printBackfill(r *engine.BackfillReport) error {
	if jsonOutput {
		return printJSON(r)
	}
	fmt.Printf("Backfill: scanned %d, filled %d, skipped %d, failed %d\n",
		r.Scanned, r.Filled, r.Skipped, r.Failed)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	var src io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open import file: %w", err)
		}
		defer f.Close()
		src = f
	}

	var records []engine.ImportRecord
	if err := json.NewDecoder(src).Decode(&records); err != nil {
		return fmt.Errorf("decode import file: %w", err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Import(ctx, records)
	if err != nil {
		return err
	}
	if jsonOutput {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Import: %d imported, %d skipped, %d indexed\n", report.Imported, report.Skipped, report.Indexed)
	}

	if importNoBackfill || report.Imported == 0 {
		return nil
	}
	bf, err := a.engine.Backfill(ctx)
	if bf != nil {
		err = errors.Join(err, printBackfill(bf))
	}
	return err
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	memories, err := a.db.ListAll(ctx)
	if err != nil {
		return err
	}

	indexed, failed := 0, 0
	for _, m := range memories {
		if err := a.db.DeleteVector(ctx, m.ID); err != nil {
			return err
		}
		if err := a.index.Index(ctx, m.ID, m.Content); err != nil {
			// Left without a vector; the next start embeds it.
			slog.Warn("reindex", "id", m.ID, "error", err)
			failed++
			continue
		}
		indexed++
	}
	fmt.Printf("Reindex: %d embedded with %s, %d failed\n", indexed, a.index.Model(), failed)
	return nil
}
