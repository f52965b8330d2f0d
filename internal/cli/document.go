package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"localdocs/internal/domain"
)

var (
	documentJSON bool
	infoJSON     bool
)

var documentCmd = &cobra.Command{
	Use:   "document <id>",
	Short: "Show a stored chunk by id",
	Long: `Print a stored chunk, as returned in the "id" field of search results.

Examples:
  localdocs document 3f2a9c1e-...
  localdocs document 3f2a9c1e-... --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDocument,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show collection statistics",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(infoCmd)
	documentCmd.Flags().BoolVar(&documentJSON, "json", false, "output as JSON, including the embedding")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "output as JSON")
}

func runDocument(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := searchService(a)
	if err != nil {
		return err
	}

	doc, err := svc.DocumentRetrieval(cmd.Context(), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("document with ID '%s' not found", args[0])
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if documentJSON {
		return writeJSON(out, doc)
	}
	fmt.Fprintf(out, "ID:       %s\n", doc.ID)
	fmt.Fprintf(out, "Source:   %s (chunk %d)\n", doc.SourcePath, doc.ChunkIndex)
	fmt.Fprintf(out, "Tokens:   %d\n", doc.TokenCount)
	fmt.Fprintf(out, "Offsets:  %d-%d\n", doc.StartOffset, doc.EndOffset)
	for k, v := range doc.Metadata {
		fmt.Fprintf(out, "  %s: %s\n", k, v)
	}
	fmt.Fprintf(out, "\n%s\n", doc.Text)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := searchService(a)
	if err != nil {
		return err
	}

	info, err := svc.CollectionInfo(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if infoJSON {
		return writeJSON(out, info)
	}
	fmt.Fprintf(out, "Collection: %s\n", info.Name)
	fmt.Fprintf(out, "  Backend:          %s\n", info.Backend)
	fmt.Fprintf(out, "  Status:           %s\n", info.Status)
	fmt.Fprintf(out, "  Points:           %d\n", info.PointCount)
	fmt.Fprintf(out, "  Indexed vectors:  %d\n", info.IndexedVectorCount)
	fmt.Fprintf(out, "  Vector dimension: %d\n", info.VectorDimension)
	if info.Documents > 0 {
		fmt.Fprintf(out, "  Documents:        %d (%d chunks)\n", info.Documents, info.Chunks)
	}
	return nil
}
