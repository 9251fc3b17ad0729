package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/tflow/internal/app"
	tc "github.com/linnemanlabs/tflow/internal/cfg"
	"github.com/linnemanlabs/tflow/internal/triage"
)

const appName = "tflow"

// cli carries the parsed configuration and the service opened for one command run.
type cli struct {
	appCfg  tc.Config
	logCfg  log.Config
	goFlags *flag.FlagSet

	logger log.Logger
	svc    *triage.Service
	close  func()
}

func newRootCmd() *cobra.Command {
	c := &cli{goFlags: flag.NewFlagSet(appName, flag.ContinueOnError)}
	c.appCfg.RegisterFlags(c.goFlags)
	c.logCfg.RegisterFlags(c.goFlags)

	root := &cobra.Command{
		Use:   appName,
		Short: "Symptom urgency triage from the command line",
		Long: "tflow classifies free-text symptoms into Critical, Urgent, Moderate or Low,\n" +
			"flags abnormal vitals, and stores every assessment in the configured store.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			c.shutdown()
		},
	}
	root.PersistentFlags().AddGoFlagSet(c.goFlags)
	root.Version = v.Get().Version

	root.AddCommand(
		newAssessCmd(c),
		newVitalsCmd(c),
		newBatchCmd(c),
		newRecentCmd(c),
		newStatsCmd(c),
		newInteractiveCmd(c),
	)
	return root
}

// open resolves flags and TFLOW_ environment variables, then builds the
// triage service. Explicit flags win over the environment.
func (c *cli) open(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cmd.Flags().Visit(func(f *pflag.Flag) {
		if c.goFlags.Lookup(f.Name) != nil {
			_ = c.goFlags.Set(f.Name, f.Value.String())
		}
	})
	cfg.FillFromEnv(c.goFlags, "TFLOW_", func(format string, args ...any) {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	})

	if err := errors.Join(c.appCfg.Validate(), c.logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(c.logCfg.ToOptions(appName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	c.logger = lg.With("component", "cli")

	store, closeStore, err := app.OpenStore(ctx, &c.appCfg, c.logger)
	if err != nil {
		return err
	}
	engine, err := app.NewEngine(ctx, &c.appCfg, c.logger, triage.EngineHooks{})
	if err != nil {
		closeStore()
		return err
	}

	c.svc = triage.NewService(store, engine, c.logger, nil, nil)
	c.close = closeStore
	return nil
}

func (c *cli) shutdown() {
	if c.close != nil {
		c.close()
		c.close = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
