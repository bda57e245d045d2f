package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tomasbasham/site-receiver/internal/audit"
	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/logger"
	"github.com/tomasbasham/site-receiver/internal/metrics"
	"github.com/tomasbasham/site-receiver/internal/plugin"
	"github.com/tomasbasham/site-receiver/internal/receiver"
	"github.com/tomasbasham/site-receiver/internal/server"
	"github.com/tomasbasham/site-receiver/internal/storage"
)

// components is the receiver wired from a configuration.
type components struct {
	logger     *slog.Logger
	audit      *audit.Log
	pipeline   *plugin.Pipeline
	store      *storage.DiskStore
	mirror     *storage.Mirror
	metrics    *metrics.Metrics
	dispatcher *receiver.Dispatcher
}

// newComponents builds every component from cfg. Process logs go to errOut.
// m may be nil when metrics are not exported.
func newComponents(ctx context.Context, cfg *config.Config, errOut io.Writer, m *metrics.Metrics) (*components, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	c := &components{metrics: m}
	c.logger = logger.New(
		logger.WithLevel(level),
		logger.WithFormat(logger.Format(cfg.LogFormat)),
		logger.WithOutput(errOut),
		logger.WithAttr(logger.Tenant(cfg.Site)),
		logger.WithContextValue("request_id", server.RequestIDKey{}),
	)

	c.audit = audit.New(cfg.LogFile, c.logger.With(logger.Component("audit")))
	c.pipeline = plugin.NewPipeline(cfg.PluginDir,
		plugin.WithRunner(plugin.ExecRunner{Timeout: cfg.PluginTimeout}),
		plugin.WithAudit(c.audit),
		plugin.WithMetrics(m),
		plugin.WithLogger(c.logger),
	)
	c.store = storage.NewDiskStore(cfg.RootDir)

	opts := receiver.Options{
		Resolver:        identity.NewResolver(cfg.Site),
		Store:           c.store,
		Hooks:           c.pipeline,
		Audit:           c.audit,
		Metrics:         m,
		Logger:          c.logger,
		CheckOKResponse: cfg.CheckOKResponse,
	}

	if cfg.MirrorURL != "" {
		c.mirror, err = storage.OpenMirror(ctx, cfg.MirrorURL, storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialise artifact mirror: %w", err)
		}
		opts.Mirror = c.mirror
	}

	c.dispatcher = receiver.NewDispatcher(opts)
	return c, nil
}

// Close releases clients held by the components.
func (c *components) Close() error {
	if c.mirror == nil {
		return nil
	}
	return c.mirror.Close()
}
