package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"strand/internal/config"
	"strand/internal/graph"
	"strand/internal/graph/inmem"
	"strand/internal/logging"
	"strand/internal/server/bootstrap"
)

var version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "strand-server",
		Short: "Run execution and event-streaming server for workflow graphs",
		Long: `strand-server exposes workflow graphs over a LangGraph-compatible HTTP API:
thread management, run execution with SSE streaming, state inspection, and
checkpoint history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyOverrides(&cfg)

			logging.SetDefault(cfg.Observability.Logging.Level, os.Stderr)

			saver := inmem.NewSaver()
			return bootstrap.RunServer(cfg, demoGraphs(saver), saver)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().IntP("port", "p", 0, "Listen port")
	rootCmd.PersistentFlags().String("host", "", "Listen host")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "Postgres DSN for the thread search index")

	viper.SetEnvPrefix("STRAND")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("postgres_dsn", rootCmd.PersistentFlags().Lookup("postgres-dsn"))

	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func applyOverrides(cfg *config.Config) {
	if port := viper.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host := viper.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Observability.Logging.Level = level
	}
	if dsn := viper.GetString("postgres_dsn"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("strand-server %s\n", version)
		},
	}
}

// demoGraphs registers the built-in graphs served when no external registry
// is configured. The agent graph drafts then refines; the approval graph
// pauses for a human decision before publishing.
func demoGraphs(saver *inmem.Saver) map[string]graph.Graph {
	agent := inmem.New("agent", saver,
		inmem.Node{Name: "draft", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			topic, _ := values["topic"].(string)
			return map[string]any{"draft": "notes on " + topic}, nil
		}},
		inmem.Node{Name: "refine", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			draft, _ := values["draft"].(string)
			return map[string]any{"output": draft + " (refined)"}, nil
		}},
	)

	approval := inmem.New("approval", saver,
		inmem.Node{Name: "propose", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"proposal": values["topic"]}, nil
		}},
		inmem.Node{Name: "review", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			decision, ok := values["__resume__"]
			if !ok {
				return nil, inmem.Interrupt(map[string]any{"question": "approve proposal?"})
			}
			return map[string]any{"decision": decision}, nil
		}},
		inmem.Node{Name: "publish", Run: func(ctx context.Context, values map[string]any) (map[string]any, error) {
			return map[string]any{"published": values["decision"] == "approved"}, nil
		}},
	)

	return map[string]graph.Graph{
		"agent":    agent,
		"approval": approval,
	}
}
