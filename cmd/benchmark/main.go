package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"localdocs/config"
	"localdocs/internal/app"
	"localdocs/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	indexPath := flag.String("index", ".", "Path to indexed directory")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	runs := flag.Int("n", 20, "Runs per search type")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -index ./docs -q \"query\"")
		fmt.Println("\nTests:")
		fmt.Println("  1. Infrastructure (embedding model, vector store)")
		fmt.Println("  2. Relevance of semantic and hybrid results")
		fmt.Println("  3. Latency per search type (the first run warms the query cache)")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Level = "error"

	a, err := app.New(cfg, app.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	svc, err := a.SearchService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search not available: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	info, err := svc.CollectionInfo(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Collection error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Points indexed: %d (%s, %s)\n", info.PointCount, info.Backend, info.Name)
	fmt.Printf("Model: %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", info.VectorDimension)
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	zero := 0.0
	for _, searchType := range []string{usecase.SearchSemantic, usecase.SearchHybrid} {
		req := usecase.SearchRequest{
			Type:               searchType,
			Query:              *query,
			Limit:              topK,
			MinSimilarityScore: &zero,
		}

		var resp *usecase.SearchResponse
		latencies := make([]time.Duration, 0, *runs)
		for i := 0; i < *runs; i++ {
			start := time.Now()
			resp, err = svc.Search(ctx, req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
				os.Exit(1)
			}
			latencies = append(latencies, time.Since(start))
		}

		fmt.Printf("\n%s: top %d matches\n\n", strings.ToUpper(searchType), len(resp.Results))
		printResults(resp)
		printLatency(latencies)
	}
}

func printResults(resp *usecase.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Println("  No results.")
		return
	}

	totalScore := 0.0
	for _, r := range resp.Results {
		preview := r.Text
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")

		totalScore += r.CombinedScore
		fmt.Printf("%d. [%s %.3f] %s#%d\n", r.Rank, rating(r.CombinedScore), r.CombinedScore, shortPath(r.SourcePath), r.ChunkIndex)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(resp.Results))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average score: %.3f\n", avgScore)
	fmt.Printf("  Top-1 score:   %.3f\n", resp.Results[0].CombinedScore)

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - search working well")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - may need better embeddings or re-indexing")
	}
}

func printLatency(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		return latencies[int(p*float64(len(latencies)-1))]
	}
	fmt.Printf("LATENCY (%d runs):\n", len(latencies))
	fmt.Printf("  p50: %s  p95: %s  max: %s\n", pct(0.5), pct(0.95), latencies[len(latencies)-1])
	fmt.Println(strings.Repeat("=", 70))
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func shortPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return parts[len(parts)-1]
	}
	return path
}
