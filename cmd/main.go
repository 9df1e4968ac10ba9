package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/Abraxas-365/rollout/pkg/config"
	"github.com/Abraxas-365/rollout/pkg/logx"
	"github.com/Abraxas-365/rollout/pkg/rolloutx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	inputPath  string
	outputPath string
	resume     bool

	rootCmd = &cobra.Command{
		Use:           "rollout",
		Short:         "Sample and branch agent trajectories over a question dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run every question through initial rollouts and branch rounds",
		RunE:  runRollouts,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the sampling plan",
		RunE:  checkConfig,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [records.jsonl]",
		Short: "Summarize a rollout output file",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectRecords,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSONL dataset of {question, answer}")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "JSONL output file (overrides sink.output_path)")
	runCmd.Flags().BoolVar(&resume, "resume", false, "Skip rollouts already finished in the output file")
	_ = runCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(runCmd, checkCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logx.WithError(err).Error("rollout failed")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if outputPath != "" {
		cfg.Sink.OutputPath = outputPath
	}
	if cmd.Flags().Changed("resume") {
		cfg.Sink.Resume = resume
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	lc := logx.DefaultConfig()
	lc.Level = logx.ParseLevel(cfg.Level)
	lc.Format = logx.ParseFormat(cfg.Format)
	logx.SetDefaultLogger(logx.NewLogger(lc))
}

func runRollouts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logx.Info("🚀 Starting rollout run...")

	questions, err := rolloutx.LoadQuestions(inputPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Cleanup()

	g, gctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})
	var progress rolloutx.Progress

	g.Go(func() error {
		defer close(finished)
		var runErr error
		progress, runErr = container.Engine.Run(gctx, questions)
		return runErr
	})

	if cfg.Server.Addr != "" {
		app := newServer(container)
		g.Go(func() error {
			logx.Infof("📈 Status server listening on %s", cfg.Server.Addr)
			return app.Listen(cfg.Server.Addr)
		})
		g.Go(func() error {
			select {
			case <-finished:
			case <-gctx.Done():
			}
			return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
		})
	}

	err = g.Wait()
	if flushErr := container.Writer.Close(); flushErr != nil && err == nil {
		err = flushErr
	}
	printSummary(progress, container.Writer.Stats())
	return err
}

func printSummary(p rolloutx.Progress, sink sinkx.WriterStats) {
	logx.Info("=" + strings.Repeat("=", 60))
	logx.Infof("📋 Questions: %d/%d done", p.QuestionsDone, p.Questions)
	logx.Infof("   ├─ Rollouts: %d completed, %d resumed, %d planned", p.Completed, p.Resumed, p.Planned)
	for _, term := range sortedKeys(p.Terminations) {
		logx.Infof("   ├─ %s: %d", term, p.Terminations[term])
	}
	logx.Infof("   └─ Records: %d written, %d failed, %d mirror failures", sink.Written, sink.Failed, sink.Mirror)
	if p.Stalled {
		logx.Warn("⚠️ Run stopped by the idle watchdog; rerun with --resume to continue")
	}
	logx.Info("=" + strings.Repeat("=", 60))
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func checkConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b := cfg.Branch.Budget
	fmt.Fprintf(cmd.OutOrStdout(), "provider:     %s\n", cfg.Model.Provider)
	fmt.Fprintf(cmd.OutOrStdout(), "budget:       N=%d K=%d R=%d M=%d B=%d\n", b.InitialRollouts, b.TopK, b.Rounds, b.Repeats, b.Total)
	fmt.Fprintf(cmd.OutOrStdout(), "per question: %d rollouts (%d per branch round)\n", b.Required(), b.PerRound())
	fmt.Fprintf(cmd.OutOrStdout(), "uncertainty:  %s, top %d logprobs\n", cfg.Branch.Mode, cfg.Branch.TopLogprobs)
	fmt.Fprintf(cmd.OutOrStdout(), "workers:      %d trajectories, limits %v\n", cfg.Concurrency.Trajectories, cfg.Concurrency.Limits())
	fmt.Fprintf(cmd.OutOrStdout(), "output:       %s (resume %t, mirrors %v)\n", cfg.Sink.OutputPath, cfg.Sink.Resume, cfg.Sink.Mirrors)
	return nil
}

func inspectRecords(cmd *cobra.Command, args []string) error {
	records, err := sinkx.ReadJSONL(args[0])
	if err != nil {
		return err
	}
	ix := sinkx.NewIndex(records)

	terms := make(map[string]int)
	questions := make(map[string]struct{})
	for _, rec := range records {
		terms[string(rec.Termination)]++
		questions[rec.Question] = struct{}{}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records:   %d (%d unique slots, %d finished)\n", len(records), ix.Len(), ix.Completed())
	fmt.Fprintf(out, "questions: %d\n", len(questions))
	for _, term := range sortedKeys(terms) {
		fmt.Fprintf(out, "  %-24s %d\n", term, terms[term])
	}
	return nil
}
