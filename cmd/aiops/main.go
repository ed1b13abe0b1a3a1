package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MIK-RC/aws-aiops/internal/app"
	"github.com/MIK-RC/aws-aiops/internal/config"
)

var errRunFailed = errors.New("run failed")

var rootCmd = &cobra.Command{
	Use:   "aiops",
	Short: "AIOps swarm coordination CLI",
	Long: `aiops runs the log analysis capabilities from the command line.

Modes:
- swarm: the specialist capabilities hand a free-form task to each other.
- pipeline: fetch logs, check known incidents, analyze, open tickets, store the report.
- proactive: analyze every affected service in parallel and store a summary.
- daily: the scheduled pipeline run, meant for cron.
- chat: one turn of a conversation with the assistant.

serve-mcp exposes the same operations to MCP clients over stdio.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AIOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (defaults to $AIOPS_CONFIG)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(swarmCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(proactiveCmd())
	rootCmd.AddCommand(dailyCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveMCPCmd())
	rootCmd.AddCommand(tokenCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadPath(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
