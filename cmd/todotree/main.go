package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pbaille/todotree/internal/api"
	"github.com/pbaille/todotree/internal/config"
	"github.com/pbaille/todotree/internal/domain"
	"github.com/pbaille/todotree/internal/entry"
	"github.com/pbaille/todotree/internal/fetcher"
	"github.com/pbaille/todotree/internal/logging"
	"github.com/pbaille/todotree/internal/metrics"
	"github.com/pbaille/todotree/internal/store"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	indexPath  string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *log.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "todotree",
		Short:         "Hierarchical to-do list stored as one JSON file per entry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "directory holding the entry files")
	rootCmd.PersistentFlags().StringVar(&indexPath, "index", config.DefaultIndexPath(), "SQLite search index path (empty disables it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", config.DefaultLogFormat, "text, json or logfmt")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(reindexCmd())

	return rootCmd
}

// setup resolves the configuration; flags set on the command line win.
func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("index") {
		cfg.IndexPath = indexPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}

	logger = logging.NewFromConfig(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return cfg.Validate()
}

func newManager() *entry.Manager {
	return entry.NewManager(cfg.DataDir, entry.WithLogger(logger))
}

func loadManager() (*entry.Manager, error) {
	m := newManager()
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func openIndex() (*store.Store, error) {
	if cfg.IndexPath == "" {
		return nil, fmt.Errorf("search index disabled (set --index or index_path)")
	}
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return store.New(cfg.IndexPath)
}

// syncIndex refreshes the search index after a CLI change, if one is configured.
func syncIndex(m *entry.Manager) {
	if cfg.IndexPath == "" {
		return
	}
	s, err := openIndex()
	if err != nil {
		logger.Warn("index unavailable", "error", err)
		return
	}
	defer s.Close()

	records := make([]domain.Record, 0, len(m.Entries()))
	for _, e := range m.Entries() {
		records = append(records, e.ToRecord())
	}
	if err := s.Sync(records); err != nil {
		logger.Warn("index sync failed", "error", err)
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []api.Option{
				api.WithLogger(logger),
				api.WithMetrics(metrics.New()),
			}

			if cfg.IndexPath != "" {
				s, err := openIndex()
				if err != nil {
					logger.Warn("search disabled", "error", err)
				} else {
					// Note: don't defer s.Close() as server runs indefinitely
					opts = append(opts, api.WithIndex(s))
				}
			}

			server := api.New(cfg.DataDir, cfg.Addr, opts...)
			if err := server.Reindex(); err != nil {
				logger.Warn("initial reindex skipped", "error", err)
			}
			return server.Run()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", config.DefaultAddr, "server address")
	return cmd
}

func listCmd() *cobra.Command {
	var flat bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the entry tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flat {
				return listIndexed(cmd.OutOrStdout(), limit, offset)
			}

			m, err := loadManager()
			if err != nil {
				return err
			}

			if len(m.Entries()) == 0 {
				fmt.Println("No entries yet. Use 'todotree add' to create one.")
				return nil
			}

			for _, e := range m.Entries() {
				e.Format(os.Stdout, 0)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flat, "flat", false, "list from the search index, one line per entry")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of entries with --flat")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip with --flat")
	return cmd
}

func listIndexed(w io.Writer, limit, offset int) error {
	s, err := openIndex()
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListEntries(limit, offset)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No indexed entries. Run 'todotree reindex' first.")
		return nil
	}

	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s%s\n", shortID(e.ID), strings.Repeat("  ", e.Depth), truncate(e.Title, 60))
	}
	return nil
}

func addCmd() *cobra.Command {
	var parentID, pageURL string

	cmd := &cobra.Command{
		Use:   "add [title|url]",
		Short: "Add an entry, at the top level or under --parent",
		Long:  "Add an entry. A single argument that looks like a URL is fetched and the page title is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if pageURL == "" && len(args) == 1 && fetcher.IsURL(title) {
				pageURL, title = title, ""
			}
			switch {
			case pageURL != "" && title != "":
				return fmt.Errorf("give either a title or --url, not both")
			case pageURL != "":
				fetched, err := fetcher.New().FetchTitle(pageURL)
				if err != nil {
					return err
				}
				title = fetched
			case title == "":
				return fmt.Errorf("a title or --url is required")
			}

			m, err := loadManager()
			if err != nil {
				return err
			}

			var e *entry.Entry
			if parentID != "" {
				e, err = m.AddChild(parentID, title)
				if err != nil {
					return err
				}
			} else {
				e = m.AddEntry(title)
			}

			if err := m.Save(); err != nil {
				return err
			}
			syncIndex(m)

			fmt.Printf("Added entry: %s\n", e.ID())
			fmt.Printf("Title: %s\n", e.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&parentID, "parent", "p", "", "id of the entry to nest under")
	cmd.Flags().StringVar(&pageURL, "url", "", "name the entry after the title of this web page")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete an entry and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager()
			if err != nil {
				return err
			}

			before := m.Count()
			if _, found := m.DeleteEntry(args[0]); !found {
				return fmt.Errorf("%w: %s", entry.ErrNotFound, args[0])
			}
			if err := m.Save(); err != nil {
				return err
			}
			syncIndex(m)

			fmt.Printf("Deleted %d entries\n", before-m.Count())
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entry files that no longer load as live entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManager()
			if err != nil {
				return err
			}

			removed, err := m.CleanupOrphans()
			if err != nil {
				return err
			}
			syncIndex(m)

			if len(removed) == 0 {
				fmt.Println("Nothing to clean up.")
				return nil
			}
			for _, id := range removed {
				fmt.Printf("  - %s.json\n", id)
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search entry titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openIndex()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.SearchEntries(args[0])
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No matching entries found.")
				return nil
			}

			for _, e := range entries {
				fmt.Printf("%s  %s%s\n", shortID(e.ID), strings.Repeat("  ", e.Depth), truncate(e.Title, 60))
			}
			return nil
		},
	}
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the entry files",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openIndex()
			if err != nil {
				return err
			}
			defer s.Close()

			server := api.New(cfg.DataDir, cfg.Addr, api.WithIndex(s), api.WithLogger(logger))
			if err := server.Reindex(); err != nil {
				return err
			}

			n, err := s.Count()
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d entries\n", n)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
