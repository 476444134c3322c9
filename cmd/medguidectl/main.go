// Command medguidectl runs the guideline engine in a single process against a
// SQLite snapshot file: ingest, search, verify, safety screening and an MCP
// server over stdio.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/medguide-rag/internal/bootstrap"
	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/observability/logging"
)

var version = "dev"

type cli struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "medguidectl",
		Short:         "Local cardiovascular guideline retrieval and safety checks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logging.NewLogger(c.errOut, "medguidectl", cfg.LogLevel)
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("sqlite", "", "snapshot database file (default ./data/medguide.db)")
	flags.String("embedding", "", "embedding provider: ollama, hashing or none")
	flags.String("log-level", "", "debug, info, warn or error")
	for key, flag := range map[string]string{
		"config_file":        "config",
		"sqlite_path":        "sqlite",
		"embedding_provider": "embedding",
		"log_level":          "log-level",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		c.ingestCmd(),
		c.searchCmd(),
		c.verifyCmd(),
		c.safetyCmd(),
		c.statusCmd(),
		c.removeCmd(),
		c.mcpCmd(),
	)
	return root
}

// open restores the local engine; callers must Close it.
func (c *cli) open(ctx context.Context) (*bootstrap.Local, error) {
	return bootstrap.NewLocal(ctx, c.cfg, bootstrap.Options{Logger: c.logger})
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "medguidectl: %v\n", err)
		os.Exit(1)
	}
}
