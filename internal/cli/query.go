package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"localdocs/internal/app"
	"localdocs/internal/domain"
	"localdocs/internal/usecase"
)

// searchFlags are shared by the three search commands.
type searchFlags struct {
	query    string
	limit    int
	minScore float64
	weight   float64
	filter   string
	json     bool
}

func newSearchCmd(use, short, long, searchType string) *cobra.Command {
	f := &searchFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd, searchType)
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd.OutOrStdout(), req, f.json)
		},
	}

	cmd.Flags().StringVarP(&f.query, "query", "q", "", "search query (required)")
	cmd.Flags().IntVarP(&f.limit, "limit", "k", 0, "number of results (default from config)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "minimum combined score (default from config)")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
	switch searchType {
	case usecase.SearchHybrid:
		cmd.Flags().Float64VarP(&f.weight, "weight", "w", 0, "semantic weight, 1.0 is pure semantic (default from config)")
	case usecase.SearchFiltered:
		cmd.Flags().StringVarP(&f.filter, "metadata-filter", "f", "", `exact-match filter as JSON, e.g. '{"format":"markdown"}'`)
	}
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// request maps flags to a search request. Flags left unset fall back to the
// configured defaults.
func (f *searchFlags) request(cmd *cobra.Command, searchType string) (usecase.SearchRequest, error) {
	req := usecase.SearchRequest{Type: searchType, Query: f.query}
	if cmd.Flags().Changed("limit") {
		req.Limit = &f.limit
	}
	if cmd.Flags().Changed("min-score") {
		req.MinSimilarityScore = &f.minScore
	}
	if cmd.Flags().Changed("weight") {
		req.SemanticWeight = &f.weight
	}
	if searchType == usecase.SearchFiltered {
		req.MetadataFilter = domain.MetadataFilter{}
		if f.filter != "" {
			if err := json.Unmarshal([]byte(f.filter), &req.MetadataFilter); err != nil {
				return req, fmt.Errorf("invalid --metadata-filter: %w", err)
			}
		}
	}
	return req, nil
}

func init() {
	rootCmd.AddCommand(newSearchCmd(
		"semantic-search",
		"Search indexed documents by meaning",
		`Rank chunks by vector similarity to the query.

Examples:
  localdocs semantic-search -q "how are sessions invalidated"
  localdocs semantic-search -q "retry policy" --limit 5 --json`,
		usecase.SearchSemantic,
	))
	rootCmd.AddCommand(newSearchCmd(
		"hybrid-search",
		"Search indexed documents by meaning and keywords",
		`Blend vector similarity with keyword overlap, phrase and path matches.

Examples:
  localdocs hybrid-search -q "JWT refresh token"
  localdocs hybrid-search -q "deploy pipeline" --weight 0.5`,
		usecase.SearchHybrid,
	))
	rootCmd.AddCommand(newSearchCmd(
		"filter-search",
		"Search indexed documents with metadata constraints",
		`Semantic search restricted to chunks whose metadata matches every pair
of the filter. Built-in keys: filename, source_path, document_id.

Examples:
  localdocs filter-search -q "installation" -f '{"format":"markdown"}'
  localdocs filter-search -q "tokens" -f '{"filename":"auth.md"}' --json`,
		usecase.SearchFiltered,
	))
}

func runSearch(ctx context.Context, out io.Writer, req usecase.SearchRequest, asJSON bool) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := searchService(a)
	if err != nil {
		return err
	}

	resp, err := svc.Search(ctx, req)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(out, resp)
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintf(out, "Found %d results for: %s\n\n", resp.TotalResults, resp.Query)
	for _, r := range resp.Results {
		fmt.Fprintf(out, "--- [%d] %s#%d (score: %.2f, semantic: %.2f, lexical: %.2f) ---\n",
			r.Rank, r.SourcePath, r.ChunkIndex, r.CombinedScore, r.SemanticScore, r.LexicalScore)
		fmt.Fprintf(out, "id: %s\n", r.ID)
		fmt.Fprintln(out, truncate(r.Text, 500))
		fmt.Fprintln(out)
	}
	return nil
}

// searchService resolves the search service, turning a missing bolt index into
// a hint to run the indexer.
func searchService(a *app.App) (*usecase.SearchService, error) {
	svc, err := a.SearchService()
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no index found. Run 'localdocs index' first")
	}
	return svc, err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(text string, max int) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "..."
}
