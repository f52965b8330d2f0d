package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"localdocs/config"
	"localdocs/internal/app"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "localdocs",
	Short: "Local document search - semantic and hybrid search over your docs",
	Long: `localdocs indexes local documentation into a vector store and serves
semantic, hybrid and metadata-filtered search, both from the command line and
as an MCP server.

Example usage:
  localdocs index ./docs                            # Index a docs directory
  localdocs hybrid-search -q "authentication flow"  # Search the index
  localdocs serve                                   # Serve MCP tools over stdio`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}
		rootDir, err = filepath.Abs(rootDir)
		if err != nil {
			return fmt.Errorf("invalid directory: %w", err)
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
			if err == nil && !filepath.IsAbs(cfg.Docs.Dir) {
				cfg.Docs.Dir = filepath.Join(rootDir, cfg.Docs.Dir)
			}
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./localdocs.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openApp builds the application container. Read-only apps share the index
// with a running indexer.
func openApp(readOnly bool) (*app.App, error) {
	return app.New(GetConfig(), app.Options{ReadOnly: readOnly})
}
