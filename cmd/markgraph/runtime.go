package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shubhambiswas2196/markgraph"
	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/artifact"
	s3store "github.com/shubhambiswas2196/markgraph/artifact/s3"
	"github.com/shubhambiswas2196/markgraph/checkpoint"
	"github.com/shubhambiswas2196/markgraph/config"
	"github.com/shubhambiswas2196/markgraph/engine"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/internal/demo"
	"github.com/shubhambiswas2196/markgraph/logging"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/model/anthropic"
	"github.com/shubhambiswas2196/markgraph/model/openai"
)

// runtime bundles the team with everything that must be closed with it.
type runtime struct {
	cfg     *config.Config
	graph   *markgraph.MarkGraph
	logger  logging.Logger
	closers []func() error
}

// Close releases stores and servers in reverse order of creation.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newRuntime loads the configuration and wires the engine.
func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = r.Close()
		}
	}()

	if r.logger, err = r.buildLogger(); err != nil {
		return nil, err
	}

	m, err := buildModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	checkpoints, err := r.buildCheckpointStore(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := buildBlobStore(ctx, cfg.Blobs)
	if err != nil {
		return nil, err
	}

	r.graph, err = markgraph.New(m, func(o *markgraph.Options) {
		o.Logger = r.logger
		o.Team = append(o.Team, func(o *demo.TeamOptions) {
			o.InvokerOptions = []func(o *agent.InvokerOptions){cfg.InvokerOptions()}
			o.Approval = approvalPolicy(cfg)
		})
		o.Engine = append(o.Engine, cfg.EngineOptions(), func(o *engine.Options) {
			o.Checkpoints = checkpoints
			o.Blobs = blobs
		})
	})
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Addr != "" {
		r.serveMetrics(cfg.Metrics.Addr)
	}

	ok = true
	return r, nil
}

func (r *runtime) buildLogger() (logging.Logger, error) {
	lc := r.cfg.Logging
	level := logging.ParseLevel(lc.Level)
	if lc.Backend == "zap" {
		z, err := logging.NewZapLogger(level, lc.Format != "json")
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		r.closers = append(r.closers, func() error {
			// Syncing stderr fails on some platforms; the result is ignored.
			_ = z.Sync()
			return nil
		})
		return z, nil
	}
	return logging.NewSlogLogger(level, lc.Format, false), nil
}

func buildModel(mc config.ModelConfig) (model.Model, error) {
	switch mc.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if mc.Name != "" {
				o.Model = mc.Name
			}
			o.Temperature = mc.Temperature
			o.MaxCompletionTokens = mc.MaxTokens
			o.APIKey = firstNonEmpty(mc.APIKey, os.Getenv("OPENAI_API_KEY"))
			o.BaseURL = mc.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if mc.Name != "" {
				o.Model = anthropic.Model(mc.Name)
			}
			o.Temperature = mc.Temperature
			if mc.MaxTokens > 0 {
				o.MaxTokens = mc.MaxTokens
			}
			o.APIKey = firstNonEmpty(mc.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		}), nil
	case "mock":
		return demo.NewOfflineModel(), nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", mc.Provider)
	}
}

func (r *runtime) buildCheckpointStore(ctx context.Context) (checkpoint.Store, error) {
	cc := r.cfg.Checkpoint
	switch cc.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "file":
		return checkpoint.NewFileStore(cc.Dir)
	case "sqlite", "postgres":
		driver := checkpoint.DriverSQLite
		if cc.Backend == "postgres" {
			driver = checkpoint.DriverPostgres
		}
		s, err := checkpoint.OpenSQLStore(ctx, driver, cc.DSN, func(o *checkpoint.SQLOptions) {
			o.Table = cc.Table
			o.Migrate = true
		})
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, s.Close)
		return s, nil
	case "redis":
		s, err := checkpoint.DialRedisStore(ctx, cc.Redis.Addr, cc.Redis.Password, cc.Redis.DB, func(o *checkpoint.RedisOptions) {
			o.Prefix = cc.Redis.Prefix
			o.TTL = cc.Redis.TTL
		})
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend %q", cc.Backend)
	}
}

func buildBlobStore(ctx context.Context, bc config.BlobConfig) (artifact.Store, error) {
	switch bc.Backend {
	case "memory":
		return artifact.NewInMemoryStore(func(o *artifact.InMemoryOptions) {
			o.MaxEntries = bc.MaxEntries
			o.MaxBytes = bc.MaxBytes
		}), nil
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:       bc.S3.Bucket,
			Region:       bc.S3.Region,
			Endpoint:     bc.S3.Endpoint,
			Prefix:       bc.S3.Prefix,
			UsePathStyle: bc.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", bc.Backend)
	}
}

// approvalPolicy adds the demo's spend-changing tools to the configured set.
func approvalPolicy(cfg *config.Config) *guard.ApprovalPolicy {
	sensitive := slices.Clone(cfg.Approval.SensitiveTools)
	for _, name := range demo.SensitiveTools {
		if !slices.Contains(sensitive, name) {
			sensitive = append(sensitive, name)
		}
	}
	return guard.NewApprovalPolicy(func(o *guard.ApprovalOptions) {
		o.Sentinel = cfg.Approval.Sentinel
		o.SensitiveTools = sensitive
	})
}

func (r *runtime) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics.server.stopped", "addr", addr, "error", err)
		}
	}()
	r.logger.Info("metrics.server.started", "addr", addr)

	r.closers = append(r.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

