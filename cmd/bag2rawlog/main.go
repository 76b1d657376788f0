// Command bag2rawlog converts a ROS1 bag or a rosbag2 sqlite3 bag into a rawlog, following the
// sensors listed in a configuration file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/lherman-cs/bag2rawlog/config"
	"github.com/lherman-cs/bag2rawlog/dispatch"
	"github.com/lherman-cs/bag2rawlog/metrics"
	"github.com/lherman-cs/bag2rawlog/rawlog"
	"github.com/lherman-cs/bag2rawlog/rosbag"
	"github.com/lherman-cs/bag2rawlog/rosbag2"
	"github.com/lherman-cs/bag2rawlog/rosmsg"
	"github.com/lherman-cs/bag2rawlog/transcribe"
)

const (
	Version = "0.1.0"
	appName = "bag2rawlog"
)

const progressWidth = 40

type bagSource interface {
	transcribe.Source
	Topics() []rosmsg.TopicInfo
	Close() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("bag2rawlog failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(stderr, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.FrameSet {
		cfg.RootFrame = cli.Frame
	}

	runID := uuid.New()
	table, err := dispatch.Build(cfg, logger.With("run", runID.String()))
	if err != nil {
		return fmt.Errorf("build dispatch table: %w", err)
	}

	src, err := openSource(cli.Input, cli.StorageID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", transcribe.ErrSourceOpen, cli.Input, err)
	}
	defer src.Close()

	printTopics(stdout, src.Topics(), table)

	m := metrics.New()
	driver := &transcribe.Driver{
		Source: src,
		OpenSink: func() (transcribe.Sink, error) {
			return rawlog.Create(cli.Output, cli.Overwrite)
		},
		Table:   table,
		RunID:   runID,
		Metrics: m,
		Logger:  logger,
	}
	if !cli.NoProgress {
		driver.Progress = progressBar(stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := driver.Run(ctx)
	if !cli.NoProgress && summary.MessagesRead > 0 {
		fmt.Fprintln(stdout)
	}

	logger.Info("transcription summary",
		"run", summary.RunID,
		"output", cli.Output,
		"read", summary.MessagesRead,
		"written", summary.RecordsWritten,
		"skipped", summary.MessagesSkipped,
		"handler_errors", summary.HandlerErrors,
		"unhandled_topics", strings.Join(summary.UnhandledTopics, ","),
		"duration", summary.Duration)

	if cli.MetricsFile != "" {
		if err := m.WriteTextfile(cli.MetricsFile); err != nil {
			logger.Warn("metrics file not written", "path", cli.MetricsFile, "error", err)
		}
	}
	return runErr
}

func openSource(path, storageID string) (bagSource, error) {
	if storageID == storageAuto {
		storageID = storageBag
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() || filepath.Ext(path) != ".bag" {
			storageID = storageSqlite3
		}
	}

	if storageID == storageSqlite3 {
		return rosbag2.Open(path)
	}
	return rosbag.Open(path)
}

func printTopics(w io.Writer, topics []rosmsg.TopicInfo, table *dispatch.Table) {
	fmt.Fprintf(w, "Topics in bag (%d):\n", len(topics))
	for _, topic := range topics {
		marker := " "
		if table.Handled(topic.Name) {
			marker = "*"
		}
		fmt.Fprintf(w, " %s %s (%s): %d messages\n", marker, topic.Name, topic.Type, topic.Count)
	}
}

func progressBar(w io.Writer) transcribe.ProgressFunc {
	return func(current, total int) {
		if total <= 0 {
			fmt.Fprintf(w, "\rProgress: %d", current)
			return
		}
		ratio := float64(current) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		filled := int(ratio * progressWidth)
		bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressWidth-filled)
		fmt.Fprintf(w, "\rProgress: %d/%d [%s] %.1f%%", current, total, bar, ratio*100)
	}
}
