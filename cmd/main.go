package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"resume-screener/internal/catalog"
	"resume-screener/internal/logger"
	"resume-screener/internal/notifier"
	"resume-screener/internal/screening"
	"resume-screener/internal/storage"
)

// rootState 保存全局 flag 绑定后的 viper 实例。
type rootState struct {
	v          *viper.Viper
	configPath string
}

func (st *rootState) load() (AppConfig, *zap.Logger, error) {
	cfg, err := loadConfig(st.v, st.configPath)
	if err != nil {
		return AppConfig{}, nil, err
	}
	log, err := logger.New(st.v.GetBool("log.json"), st.v.GetBool("log.debug"))
	if err != nil {
		return AppConfig{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newViper()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	st := &rootState{v: v}
	root := &cobra.Command{
		Use:           app,
		Short:         "Resume screening and candidate pipeline service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&st.configPath, "config", "", "config file (default ./screener.yaml)")
	flags.BoolP("debug", "d", false, "enable debug logging")
	flags.BoolP("json", "j", false, "log in JSON format")
	_ = v.BindPFlag("log.debug", flags.Lookup("debug"))
	_ = v.BindPFlag("log.json", flags.Lookup("json"))

	root.AddCommand(
		newServeCmd(st),
		newSweepCmd(st),
		newScoreCmd(st),
		newTrainCmd(st),
		newSeedCmd(st),
		newRelayCmd(st),
	)
	return root
}

func newSweepCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <name>",
		Short: "Run one background job now (screen, retrain, summary-daily, summary-weekly, summary-monthly)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			report, err := runOnceManual(cmd.Context(), cfg, args[0], newAppBuilder(log))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newScoreCmd(st *rootState) *cobra.Command {
	var force, requireClassifier bool
	cmd := &cobra.Command{
		Use:   "score <applicant-id>",
		Short: "Score one applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			deps, cleanup, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := deps.screener.ScoreApplicant(cmd.Context(), id, screening.Options{
				Force:             force,
				RequireClassifier: requireClassifier,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rescore even if a score exists")
	cmd.Flags().BoolVar(&requireClassifier, "require-classifier", false, "fail when the job's classifier is unavailable")
	return cmd
}

func newTrainCmd(st *rootState) *cobra.Command {
	var jobID uint
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the global classifier, or one job's classifier with --job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			deps, cleanup, err := buildApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			var res screening.TrainResult
			if jobID > 0 {
				res, err = deps.screener.TrainJob(cmd.Context(), jobID)
			} else {
				res, err = deps.screener.TrainGlobal(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().UintVar(&jobID, "job", 0, "job id")
	return cmd
}

func newSeedCmd(st *rootState) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a job catalog file into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if path == "" {
				path = cfg.Catalog
			}
			if path == "" {
				return errors.New("no catalog given: pass --catalog or set catalog in config")
			}

			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer store.Close()

			report, err := catalog.Seed(cmd.Context(), store, cat, log)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "catalog file, overrides catalog in config")
	return cmd
}

func newRelayCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Deliver queued mail from AMQP over SMTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := st.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Mail.SMTP.Host == "" {
				return errors.New("relay needs mail.smtp.host")
			}

			queue, err := notifier.NewAMQPSender(cfg.Mail.AMQP, log)
			if err != nil {
				return err
			}
			defer queue.Close()

			log.Info("relaying mail", zap.String("queue", cfg.Mail.AMQP.Queue))
			return queue.Relay(cmd.Context(), notifier.NewSMTPClient(cfg.Mail.SMTP))
		},
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
