package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odvcencio/classtap/pkg/capture"
	"github.com/odvcencio/classtap/pkg/config"
	"github.com/odvcencio/classtap/pkg/layout"
	"github.com/odvcencio/classtap/pkg/logging"
	"github.com/odvcencio/classtap/pkg/stats"
	"github.com/odvcencio/classtap/pkg/store"
	"github.com/odvcencio/classtap/pkg/trace"
)

const (
	reportName   = "report.txt"
	signatureExt = ".sig"
)

type replayFlags struct {
	configPath   string
	outDir       string
	sink         string
	maxFrames    int
	concurrency  int
	metricsFile  string
	sign         bool
	signKey      string
	noReportFile bool
	noLock       bool
	unserialized bool
	logLevel     string
	logFormat    string
}

func newReplayCmd() *cobra.Command {
	var f replayFlags

	cmd := &cobra.Command{
		Use:   "replay <trace.yaml[.zst]>",
		Short: "Deliver recorded class-definition events to the capture engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := replayConfig(cmd, f)
			if err != nil {
				return err
			}
			return runReplay(cmd, cfg, f, args[0])
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "TOML config file")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "output root (default \"out\")")
	cmd.Flags().StringVar(&f.sink, "sink", "", "context record sink: file or stdout")
	cmd.Flags().IntVar(&f.maxFrames, "max-frames", 0, "stack frames inspected per event (default 47)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 1, "deliver events from N goroutines")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus textfile metrics at shutdown")
	cmd.Flags().BoolVar(&f.sign, "sign", false, "sign the report file with an SSH key")
	cmd.Flags().StringVar(&f.signKey, "sign-key", "", "SSH private key for --sign (default ~/.ssh/id_ed25519, id_ecdsa, id_rsa)")
	cmd.Flags().BoolVar(&f.noReportFile, "no-report-file", false, "print the report without writing <out>/report.txt")
	cmd.Flags().BoolVar(&f.noLock, "no-lock", false, "do not lock the output root")
	cmd.Flags().BoolVar(&f.unserialized, "unserialized", false, "drop the pipeline lock (statistics stay exact)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "text or json")
	return cmd
}

// replayConfig loads the config file and applies explicitly set flags.
func replayConfig(cmd *cobra.Command, f replayFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.OutDir = f.outDir
	}
	if flags.Changed("sink") {
		cfg.Sink = f.sink
	}
	if flags.Changed("max-frames") {
		cfg.MaxFrames = f.maxFrames
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if f.noLock {
		cfg.Lock = false
	}
	if f.unserialized {
		cfg.Serialize = false
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func runReplay(cmd *cobra.Command, cfg *config.Config, f replayFlags, tracePath string) (err error) {
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	tf, err := trace.Load(tracePath)
	if err != nil {
		return err
	}
	rp, err := tf.Build(filepath.Dir(tracePath))
	if err != nil {
		return err
	}

	if cfg.Lock {
		release, lerr := store.LockRoot(cfg.OutDir)
		if lerr != nil {
			return fmt.Errorf("replay: %w", lerr)
		}
		defer func() {
			if rerr := release(); rerr != nil && err == nil {
				err = fmt.Errorf("replay: release lock: %w", rerr)
			}
		}()
	} else if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("replay: %w %s: %v", layout.ErrOutputDir, cfg.OutDir, err)
	}

	var sink store.Sink = store.InfoFileSink{}
	if cfg.Sink == config.SinkStdout {
		sink = store.NewStreamSink(cmd.OutOrStdout())
	}

	agg := stats.New(stats.WithLogger(log))
	c := capture.New(rp.Host, capture.Options{
		Root:           cfg.OutDir,
		MaxFrames:      cfg.MaxFrames,
		IgnorePrefixes: cfg.IgnorePrefixes,
		Sink:           sink,
		Stats:          agg,
		Logger:         log,
		Unserialized:   !cfg.Serialize,
	})
	log.Info("replay started", "trace", tracePath, "events", len(rp.Events), "out", cfg.OutDir, "session", c.Session())

	if err := config.Write(filepath.Join(cfg.OutDir, config.EffectiveName), cfg); err != nil {
		log.Warn("effective config not recorded", "err", err)
	}

	sum, runErr := trace.Run(cmd.Context(), c, rp.Events, f.concurrency)
	log.Info("replay finished", "delivered", sum.Delivered, "conflicts", sum.Conflicts,
		"write_errors", sum.WriteErrors, "sink_errors", sum.SinkErrors, "invariant_violations", sum.Violations)

	if err := shutdown(cmd, cfg, f, c); err != nil {
		if runErr != nil {
			log.Error("shutdown after fatal error failed", "err", err)
			return runErr
		}
		return err
	}
	if runErr != nil {
		return fmt.Errorf("replay: %w", runErr)
	}
	return nil
}

// shutdown prints the report and writes the optional report file, its
// signature and the metrics textfile.
func shutdown(cmd *cobra.Command, cfg *config.Config, f replayFlags, c *capture.Capturer) error {
	var report bytes.Buffer
	fmt.Fprintf(&report, "Session: %s\n", c.Session())
	if err := stats.WriteReport(&report, c.Stats().Snapshot()); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if _, err := cmd.ErrOrStderr().Write(report.Bytes()); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if !f.noReportFile {
		p := filepath.Join(cfg.OutDir, reportName)
		if err := os.WriteFile(p, report.Bytes(), 0o644); err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if f.sign || f.signKey != "" {
			if err := signReportFile(p, f.signKey); err != nil {
				return err
			}
		}
	}

	if cfg.MetricsFile != "" {
		if err := c.Stats().WriteTextfile(cfg.MetricsFile); err != nil {
			return err
		}
	}
	return nil
}

func signReportFile(path, keyPath string) error {
	sign, _, err := newSSHReportSigner(keyPath)
	if err != nil {
		return fmt.Errorf("sign report: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sign report: %w", err)
	}
	sig, err := sign(data)
	if err != nil {
		return fmt.Errorf("sign report: %w", err)
	}
	if err := os.WriteFile(path+signatureExt, []byte(sig+"\n"), 0o644); err != nil {
		return fmt.Errorf("sign report: %w", err)
	}
	return nil
}
