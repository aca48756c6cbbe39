package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ytradar",
		Short:         "Track competitor YouTube channels, publishing cadence and data quality",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database_path)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(snapshotCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(frequencyCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(competitorsCmd())
	root.AddCommand(videosCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(collectCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(configCmd())

	return root
}

func initCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and apply every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail if the database already holds tables")
	return cmd
}

func migrateCmd() *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, target)
		},
	}

	cmd.Flags().IntVar(&target, "target", 0, "schema version to migrate to (default: latest)")
	return cmd
}

func ingestCmd() *cobra.Command {
	var snapshot bool

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Apply a YAML or JSON batch of competitors, videos and playlists (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], snapshot)
		},
	}

	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "record a stats snapshot for every imported competitor")
	return cmd
}

func snapshotCmd() *cobra.Command {
	var (
		competitor int64
		note       string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record stats snapshots from the current competitor counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, competitor, note)
		},
	}

	cmd.Flags().Int64Var(&competitor, "competitor", 0, "only this competitor id (default: all)")
	cmd.Flags().StringVar(&note, "note", "", "note stored with the snapshot")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write an initial snapshot for competitors without history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd)
		},
	}
}

func reconcileCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Back-fill missing playlists and repair playlist counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}

func frequencyCmd() *cobra.Command {
	var competitor int64

	cmd := &cobra.Command{
		Use:   "frequency",
		Short: "Rebuild publishing frequency statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrequency(cmd, competitor)
		},
	}

	cmd.Flags().Int64Var(&competitor, "competitor", 0, "only this competitor id (default: all)")
	return cmd
}

func validateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Score data quality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func competitorsCmd() *cobra.Command {
	var (
		jsonOutput bool
		name       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "competitors",
		Short: "List competitors with their frequency stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompetitors(cmd, name, limit, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&name, "name", "", "only names containing this text")
	cmd.Flags().IntVar(&limit, "limit", 0, "max competitors to show")
	return cmd
}

func videosCmd() *cobra.Command {
	var (
		jsonOutput bool
		opts       videoFlags
	)

	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVideos(cmd, opts, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().Int64Var(&opts.competitor, "competitor", 0, "only this competitor id")
	cmd.Flags().StringVar(&opts.category, "category", "", "hero, hub, help or unclassified")
	cmd.Flags().StringVar(&opts.sentiment, "sentiment", "", "sentiment label")
	cmd.Flags().StringVar(&opts.sort, "sort", "published", "published, views, likes, comments or engagement")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "max videos to show")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "videos to skip")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		jsonOutput bool
		since      string
	)

	cmd := &cobra.Command{
		Use:   "history ID",
		Short: "Show a competitor's stats snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, args[0], since, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&since, "since", "", "only snapshots at or after this timestamp")
	return cmd
}

func collectCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the configured importers once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, sources)
		},
	}

	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific importers to run (youtube_api, youtube_feed)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	})
	return cmd
}
