// Package cli wires the sync engine into the auditcore command-line
// interface. Configuration comes from flags and AUDITCORE_* environment
// variables; flags win.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"auditcore/internal/blob"
	"auditcore/internal/core"
	"auditcore/internal/logging"
	"auditcore/internal/senso"
	"auditcore/pkg/domain"
)

const envPrefix = "AUDITCORE"

type app struct {
	viper   *viper.Viper
	logger  *zap.Logger
	service *core.Service

	logLevel  string
	logFormat string
	offline   bool
}

// Execute runs the auditcore CLI.
func Execute() error {
	a := &app{viper: viper.New(), logger: zap.NewNop()}
	root := a.rootCommand()
	defer func() { _ = a.logger.Sync() }()
	return root.Execute()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "auditcore",
		Short:         "Offline-first workplace audit sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (structured or console)")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "force offline routing for this invocation")

	root.AddCommand(a.statusCommand())
	root.AddCommand(a.drainCommand())
	root.AddCommand(a.refreshCommand())
	root.AddCommand(a.scoreCommand())
	root.AddCommand(a.createCommand())
	root.AddCommand(a.answerCommand())
	root.AddCommand(a.completeCommand())
	return root
}

// initialize builds the logger and the fully wired service once per
// invocation, before any subcommand runs.
func (a *app) initialize(ctx context.Context) error {
	a.viper.SetEnvPrefix(envPrefix)
	a.viper.AutomaticEnv()
	level := a.logLevel
	if level == "" {
		level = a.viper.GetString("log_level")
	}
	format := a.logFormat
	if format == "" {
		format = a.viper.GetString("log_format")
	}
	logger, err := logging.New(level, format)
	if err != nil {
		return err
	}
	a.logger = logger

	local, err := core.OpenLocalStore()
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	backend, err := core.OpenBackend()
	if err != nil {
		// A missing backend degrades to offline routing; queued work waits
		// for a later invocation that can reach it.
		a.logger.Warn("remote backend unavailable", zap.Error(err))
		backend = unreachableBackend{err: err}
	}
	opts := []core.Option{
		core.WithLogger(logging.Adapt(logger)),
	}
	if reg, merr := a.metricsRecorder(); merr != nil {
		return merr
	} else if reg != nil {
		opts = append(opts, core.WithMetrics(reg))
	}
	if photos, perr := blob.Open(ctx); perr == nil {
		opts = append(opts, core.WithPhotoStore(photos))
	} else {
		a.logger.Warn("photo store unavailable", zap.Error(perr))
	}
	a.service = core.NewService(local, backend, opts...)
	if _, isStub := backend.(unreachableBackend); isStub {
		a.service.Connectivity().SetNetworkReachable(false)
	} else {
		a.service.Connectivity().SetNetworkReachable(true)
	}
	a.service.Connectivity().SetOfflineOverride(a.offline)
	return nil
}

// metricsRecorder exposes Prometheus metrics when AUDITCORE_METRICS_LISTEN
// names a listen address; otherwise metrics stay off.
func (a *app) metricsRecorder() (core.MetricsRecorder, error) {
	addr := a.viper.GetString("metrics_listen")
	if addr == "" {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	recorder, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if serr := http.ListenAndServe(addr, mux); serr != nil {
			a.logger.Warn("metrics listener stopped", zap.Error(serr))
		}
	}()
	return recorder, nil
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, queue depth, and replay conflicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.service.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func (a *app) drainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay the pending operation queue against the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome, err := a.service.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, outcome)
		},
	}
}

func (a *app) refreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <company-id>",
		Short: "Mirror reference data for a company into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.service.RefreshReferenceData(cmd.Context(), args[0])
		},
	}
}

func (a *app) scoreCommand() *cobra.Command {
	var maxLevel int
	var includeRoot, includeUntagged bool
	cmd := &cobra.Command{
		Use:   "score <company-id>",
		Short: "Compute the hierarchical 5S score report for a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.service.ScoreReport(cmd.Context(), args[0], sensoConfig(maxLevel, includeRoot, includeUntagged))
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().IntVar(&maxLevel, "max-level", 0, "deepest tree level rendered (default 3)")
	cmd.Flags().BoolVar(&includeRoot, "include-root", false, "emit the company root row")
	cmd.Flags().BoolVar(&includeUntagged, "include-untagged", false, "count untagged items toward the overall score")
	return cmd
}

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <company-id> <location-id> <auditor-id>",
		Short: "Start a new audit with one item per applicable criterion",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ag, err := a.service.CreateAudit(cmd.Context(), core.CreateAuditParams{
				CompanyID:  args[0],
				LocationID: args[1],
				AuditorID:  args[2],
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, ag)
		},
	}
}

func (a *app) answerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <item-id> <yes|no>",
		Short: "Record a conformity answer on an audit item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var answer bool
			switch args[1] {
			case "yes":
				answer = true
			case "no":
				answer = false
			default:
				return fmt.Errorf("answer must be yes or no, got %q", args[1])
			}
			item, err := a.service.AnswerItem(cmd.Context(), args[0], answer)
			if err != nil {
				return err
			}
			return printJSON(cmd, item)
		},
	}
}

func (a *app) completeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <audit-id>",
		Short: "Finalize an audit and compute its score locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := a.service.CompleteAudit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, audit)
		},
	}
}

func sensoConfig(maxLevel int, includeRoot, includeUntagged bool) senso.Config {
	return senso.Config{
		MaxRenderLevel:           maxLevel,
		IncludeRoot:              includeRoot,
		IncludeUntaggedInOverall: includeUntagged,
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// unreachableBackend stands in when no backend connection exists. Every call
// fails transiently, which routes writes into the pending queue and reads
// into the cache.
type unreachableBackend struct{ err error }

var _ core.Backend = unreachableBackend{}

func (u unreachableBackend) FetchOne(context.Context, core.Collection, string) (json.RawMessage, error) {
	return nil, domain.TransientRemote("fetch_one", u.err)
}

func (u unreachableBackend) FetchMany(context.Context, core.Collection, map[string]string) ([]json.RawMessage, error) {
	return nil, domain.TransientRemote("fetch_many", u.err)
}

func (u unreachableBackend) Insert(context.Context, core.Collection, json.RawMessage) (json.RawMessage, error) {
	return nil, domain.TransientRemote("insert", u.err)
}

func (u unreachableBackend) Update(context.Context, core.Collection, string, json.RawMessage) (json.RawMessage, error) {
	return nil, domain.TransientRemote("update", u.err)
}

func (u unreachableBackend) Upsert(context.Context, core.Collection, string, json.RawMessage) (json.RawMessage, error) {
	return nil, domain.TransientRemote("upsert", u.err)
}
