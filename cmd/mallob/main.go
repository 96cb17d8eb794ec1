// Command mallob is the platform's single process entrypoint: solve one
// CNF file directly (-mono) or run the scheduler daemon against a job-file
// API directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xinlaoda/mallob-go/internal/config"
	"github.com/xinlaoda/mallob-go/internal/daemon"
	"github.com/xinlaoda/mallob-go/internal/logging"
	"github.com/xinlaoda/mallob-go/internal/solver"
	"github.com/xinlaoda/mallob-go/internal/term"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mallob",
		Short: "distributed job scheduling and elastic tree-management core for parallel SAT solving",
	}
	v := config.BindFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg := config.FromViper(v)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := logging.New(logging.Options{Verbosity: cfg.Verbosity, FilePath: cfg.LogFile})

		if cfg.Mono != "" {
			return runMono(cfg, log)
		}
		return runDaemon(cfg, log)
	}
	return cmd
}

// runMono implements -mono mode: load and solve a single CNF file directly,
// bypassing the job-file adapter entirely, optionally asserting the result
// matches -assertresult.
func runMono(cfg *config.Config, log *logrus.Logger) error {
	entry := logging.WithComponent(log, "mono")
	entry.WithField("file", cfg.Mono).Info("solving")

	clauses, err := solver.LoadDIMACS(cfg.Mono)
	if err != nil {
		return err
	}

	engine := solver.NewGiniAdapter()
	for _, c := range clauses {
		engine.Add(c)
	}

	result := engine.Solve(term.New(nil))
	entry.WithField("result", result).Info("solve complete")

	if cfg.AssertResult != "" {
		want := map[string]solver.Result{"SAT": solver.ResultSAT, "UNSAT": solver.ResultUNSAT}[cfg.AssertResult]
		if result != want {
			return fmt.Errorf("mallob: assertresult %s but solver returned %s", cfg.AssertResult, result)
		}
	}
	return nil
}

// runDaemon implements normal daemon mode: watch the job-file API directory
// and run the scheduler loop until an interrupt or terminate signal
// arrives.
func runDaemon(cfg *config.Config, log *logrus.Logger) error {
	d := daemon.New(cfg, logging.WithComponent(log, "daemon"))

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return d.Run(ctx)
}
