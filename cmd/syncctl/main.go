// Command syncctl runs one synchronization pass, or repeated passes on a
// fixed interval, from a declarative mapping configuration file into a
// FalkorDB or Neo4j graph.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/snowflake-to-falkordb/internal/applog"
	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/graphsink"
	"github.com/evalgo/snowflake-to-falkordb/internal/httpapi"
	"github.com/evalgo/snowflake-to-falkordb/internal/metrics"
	"github.com/evalgo/snowflake-to-falkordb/internal/notify"
	"github.com/evalgo/snowflake-to-falkordb/internal/orchestrator"
	"github.com/evalgo/snowflake-to-falkordb/internal/runhistory"
	"github.com/evalgo/snowflake-to-falkordb/internal/version"
	"github.com/evalgo/snowflake-to-falkordb/internal/watermark"
)

var (
	cfgPath       string
	purgeGraph    bool
	purgeMappings []string
	daemonMode    bool
	intervalSecs  uint64
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "synchronize a tabular warehouse into a property graph",
	RunE:  runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build and driver version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		fmt.Printf("%s %s (%s)\n", info.MainModule, info.MainVersion, info.GoVersion)
		if info.SnowflakeDriver != "" {
			fmt.Printf("  snowflake driver %s\n", info.SnowflakeDriver)
		}
		if info.FalkorDBClient != "" {
			fmt.Printf("  falkordb client %s\n", info.FalkorDBClient)
		}
		if info.Neo4jDriver != "" {
			fmt.Printf("  neo4j driver %s\n", info.Neo4jDriver)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&cfgPath, "config", "", "mapping configuration file (defaults to ~/.snowflake-to-falkordb.yaml)")
	rootCmd.Flags().BoolVar(&purgeGraph, "purge-graph", false, "purge the entire graph before the first run")
	rootCmd.Flags().StringArrayVar(&purgeMappings, "purge-mapping", nil, "purge only the named mapping before the first run (repeatable)")
	rootCmd.Flags().BoolVar(&daemonMode, "daemon", false, "run continuously on a fixed interval instead of once")
	rootCmd.Flags().Uint64Var(&intervalSecs, "interval-secs", 60, "daemon tick interval in seconds")

	rootCmd.AddCommand(versionCmd)

	viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	viper.BindPFlag("daemon", rootCmd.Flags().Lookup("daemon"))
	viper.BindPFlag("interval_secs", rootCmd.Flags().Lookup("interval-secs"))
}

// initConfig wires environment variable overrides for the CLI's own flags,
// distinct from the mapping configuration file loaded by --config, which
// internal/config parses directly.
func initConfig() {
	viper.SetEnvPrefix("SYNCCTL")
	viper.AutomaticEnv()
}

func runSync(cmd *cobra.Command, args []string) error {
	log := applog.New(applog.DefaultConfig())

	path := viper.GetString("config")
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("resolving home directory for default config path: %w", err)
		}
		path = filepath.Join(home, ".snowflake-to-falkordb.yaml")
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifySignals(cancel)

	conn, err := graphsink.Connect(ctx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("connecting to graph: %w", err)
	}
	defer conn.Close()

	watermarks, err := watermark.Open(cfg.State, conn)
	if err != nil {
		return fmt.Errorf("opening watermark store: %w", err)
	}

	history, err := runhistory.Open(cfg.RunHistory)
	if err != nil {
		return fmt.Errorf("opening run history recorder: %w", err)
	}
	defer history.Close()

	notifier, err := notify.Open(cfg.Notify)
	if err != nil {
		return fmt.Errorf("opening notifier: %w", err)
	}
	defer notifier.Close()

	reg := metrics.New()
	orch := orchestrator.New(cfg, conn, watermarks, reg, history, notifier, log)

	listenAddr := "0.0.0.0:9898"
	if cfg.ControlAPI != nil {
		listenAddr = cfg.ControlAPI.EffectiveListenAddr()
	}
	server := httpapi.New(cfg.ControlAPI, func(triggerCtx context.Context) error {
		return orch.RunOnce(triggerCtx, false, nil)
	}, reg, log)
	go func() {
		if err := server.ListenAndServe(ctx, listenAddr); err != nil {
			log.WithField("error", err).Error("control API server exited")
		}
	}()

	if viper.GetBool("daemon") {
		interval := viper.GetUint64("interval_secs")
		log.WithField("interval_secs", interval).Info("starting in daemon mode")
		return orch.RunDaemon(ctx, purgeGraph, purgeMappings, interval)
	}

	if err := orch.RunOnce(ctx, purgeGraph, purgeMappings); err != nil {
		return err
	}

	fmt.Println("Load completed successfully.")
	return nil
}

func notifySignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
