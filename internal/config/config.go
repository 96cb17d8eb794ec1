// Package config holds runtime configuration for the platform's per-process
// daemon: a flat struct loaded through viper from CLI flags and
// MALLOB_-prefixed environment variables. No config file is read.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration, bound from CLI flags/env by
// BindFlags and FromViper. Field names mirror the daemon's CLI surface.
type Config struct {
	// APIRoot is the directory containing new/, introduced/, pending/, done/.
	APIRoot string

	// Mono, if non-empty, names a CNF file to solve directly, bypassing the
	// adapter entirely (-mono=<cnf>).
	Mono string

	// ThreadsPerProcess is the number of solver threads this process hosts (-t).
	ThreadsPerProcess int

	// ExpectedJobs sizes internal maps and buffers (-J).
	ExpectedJobs int

	// BalancingCadenceFactor scales the balancing round period (-lbc).
	BalancingCadenceFactor int

	// Verbosity is the logging verbosity level (-l).
	Verbosity int

	// SolverPortfolio names the solver portfolio spec (-satsolver).
	SolverPortfolio string

	// AppMode is "thread" or "fork" (-appmode).
	AppMode string

	// AssertResult, if set, is "SAT" or "UNSAT"; mono-mode exits non-zero on mismatch.
	AssertResult string

	// CheckJSONResults enables post-run cross-check against done/ (-checkjsonresults).
	CheckJSONResults bool

	// Checksums enables integrity checking on payload transfer (-checksums).
	Checksums bool

	// SizeLimitPerProcess caps threadsPerJob * literalCount for a job's
	// solver threads.
	SizeLimitPerProcess int

	// BalancingPeriod is the wall-clock period between balancing rounds.
	BalancingPeriod time.Duration

	// LimitCheckPeriod is how often CPU/wallclock limits are checked; the
	// daemon's main loop ticks on this period, so it stays at most 1s.
	LimitCheckPeriod time.Duration

	// SharedMemoryPrefix is the cleanup key for shared-memory segments.
	SharedMemoryPrefix string

	// LogFile, if set, additionally writes rotated logs there.
	LogFile string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint; empty disables it.
	MetricsAddr string
}

// Default returns a Config populated with the platform's documented defaults.
func Default() *Config {
	return &Config{
		APIRoot:                ".",
		ThreadsPerProcess:      1,
		ExpectedJobs:           1,
		BalancingCadenceFactor: 4,
		Verbosity:              1,
		SolverPortfolio:        "cadical",
		AppMode:                "thread",
		SizeLimitPerProcess:    0,
		BalancingPeriod:        time.Second,
		LimitCheckPeriod:       time.Second,
		SharedMemoryPrefix:     "edu.kit.iti.mallob",
		MetricsAddr:            "127.0.0.1:9091",
	}
}

// BindFlags registers the Config fields as pflags on fs and returns a viper
// instance bound to those flags plus MALLOB_-prefixed environment variables.
// BalancingPeriod, LimitCheckPeriod and SharedMemoryPrefix have no flag and
// keep their defaults.
func BindFlags(fs *pflag.FlagSet) *viper.Viper {
	d := Default()
	fs.String("api-root", d.APIRoot, "job API root directory")
	fs.String("mono", d.Mono, "solve a single CNF file and exit, bypassing the adapter")
	fs.IntP("t", "t", d.ThreadsPerProcess, "threads per process")
	fs.IntP("J", "J", d.ExpectedJobs, "expected number of jobs")
	fs.Int("lbc", d.BalancingCadenceFactor, "load-balancing cadence factor")
	fs.IntP("l", "l", d.Verbosity, "logging verbosity")
	fs.String("satsolver", d.SolverPortfolio, "solver portfolio spec")
	fs.String("appmode", d.AppMode, "thread|fork")
	fs.String("assertresult", "", "SAT|UNSAT test assertion")
	fs.Bool("checkjsonresults", false, "cross-check results against done/")
	fs.Bool("checksums", false, "enable payload transfer integrity check")
	fs.Int("size-limit-per-process", d.SizeLimitPerProcess, "literal budget per process (0=none)")
	fs.String("log-file", "", "rotated log file path")
	fs.String("metrics-addr", d.MetricsAddr, "Prometheus /metrics listen address, empty disables it")

	v := viper.New()
	v.SetEnvPrefix("MALLOB")
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

// FromViper materializes a Config from a bound viper instance.
func FromViper(v *viper.Viper) *Config {
	d := Default()
	c := &Config{
		APIRoot:                v.GetString("api-root"),
		Mono:                   v.GetString("mono"),
		ThreadsPerProcess:      orInt(v.GetInt("t"), d.ThreadsPerProcess),
		ExpectedJobs:           orInt(v.GetInt("J"), d.ExpectedJobs),
		BalancingCadenceFactor: orInt(v.GetInt("lbc"), d.BalancingCadenceFactor),
		Verbosity:              v.GetInt("l"),
		SolverPortfolio:        orStr(v.GetString("satsolver"), d.SolverPortfolio),
		AppMode:                orStr(v.GetString("appmode"), d.AppMode),
		AssertResult:           v.GetString("assertresult"),
		CheckJSONResults:       v.GetBool("checkjsonresults"),
		Checksums:              v.GetBool("checksums"),
		SizeLimitPerProcess:    v.GetInt("size-limit-per-process"),
		BalancingPeriod:        d.BalancingPeriod,
		LimitCheckPeriod:       d.LimitCheckPeriod,
		SharedMemoryPrefix:     d.SharedMemoryPrefix,
		LogFile:                v.GetString("log-file"),
		MetricsAddr:            v.GetString("metrics-addr"),
	}
	return c
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Validate checks cross-field constraints and returns a descriptive error.
func (c *Config) Validate() error {
	if c.AppMode != "thread" && c.AppMode != "fork" {
		return fmt.Errorf("config: appmode must be thread or fork, got %q", c.AppMode)
	}
	if c.AssertResult != "" && c.AssertResult != "SAT" && c.AssertResult != "UNSAT" {
		return fmt.Errorf("config: assertresult must be SAT or UNSAT, got %q", c.AssertResult)
	}
	if c.ThreadsPerProcess < 1 {
		return fmt.Errorf("config: t must be >= 1, got %d", c.ThreadsPerProcess)
	}
	return nil
}
