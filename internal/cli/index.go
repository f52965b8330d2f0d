package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"localdocs/config"
	"localdocs/internal/usecase"
)

var (
	indexForce    bool
	indexWatch    bool
	indexDebounce time.Duration
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index documents for search",
	Long: `Index documents in the specified directory into the configured vector store.
Unchanged files are skipped; removed files are dropped from the collection.
The manifest is stored in .localdocs/index.db within the documents directory.

Examples:
  localdocs index .               # Index current directory
  localdocs index ./docs --force  # Rebuild the collection from scratch
  localdocs index ./docs --watch  # Keep the index in sync with edits`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "drop the collection and re-index everything")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep watching for changes after indexing")
	indexCmd.Flags().DurationVar(&indexDebounce, "debounce", usecase.DefaultDebounce, "quiet period before re-indexing changed files")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if len(args) > 0 {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		cfg.Docs.Dir = path
	}

	info, err := os.Stat(cfg.Docs.Dir)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", cfg.Docs.Dir)
	}

	if err := config.EnsureDir(cfg.Docs.Dir); err != nil {
		return fmt.Errorf("failed to create .localdocs directory: %w", err)
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	indexUC, err := a.IndexUseCase()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Scanning %s...\n", indexUC.Root())
	fmt.Printf("Embedding: provider=%s, model=%s, store=%s\n",
		cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Store.Backend)

	started := time.Now()
	result, err := indexUC.Index(ctx, usecase.IndexOptions{
		Force:    indexForce,
		Progress: newProgress(),
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if result.Rebuilt {
		fmt.Printf("\nIndex rebuilt: %s\n", result.RebuildReason)
	}
	fmt.Printf("\nIndexing complete in %s:\n", formatDuration(time.Since(started)))
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nManifest stored at: %s\n", cfg.DBPath())

	if !indexWatch {
		return nil
	}
	return watch(ctx, indexUC)
}

func watch(ctx context.Context, indexUC *usecase.IndexUseCase) error {
	fmt.Printf("\nWatching %s for changes (Ctrl+C to stop)...\n", indexUC.Root())
	return indexUC.Watch(ctx, indexDebounce, func(ev usecase.WatchEvent) {
		if ev.Err != nil {
			fmt.Printf("  ! %s: %v\n", ev.Path, ev.Err)
			return
		}
		fmt.Printf("  %s %s\n", ev.Outcome, ev.Path)
	})
}

// newProgress returns a progress callback that lazily creates the bar once
// the total number of files is known.
func newProgress() func(processed, total int, currentFile string) {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	return func(processed, total int, currentFile string) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		_ = bar.Set(processed)

		if processed > 0 {
			elapsed := time.Since(startTime)
			rate := float64(processed) / elapsed.Seconds()
			remaining := total - processed
			if rate > 0 {
				eta := time.Duration(float64(remaining)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
