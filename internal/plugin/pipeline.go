package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tomasbasham/site-receiver/internal/audit"
	"github.com/tomasbasham/site-receiver/internal/logger"
	"github.com/tomasbasham/site-receiver/internal/metrics"
)

// Pipeline discovers and invokes the plugins below a plugin directory.
type Pipeline struct {
	dir     string
	runner  Runner
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithRunner(r Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

func WithAudit(r audit.Recorder) Option {
	return func(p *Pipeline) { p.audit = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline rooted at dir. Without options plugins run
// through an ExecRunner with no timeout and nothing is audited.
func NewPipeline(dir string, opts ...Option) *Pipeline {
	p := &Pipeline{
		dir:    dir,
		runner: ExecRunner{},
		audit:  audit.Discard{},
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dir returns the directory holding the plugins for event.
func (p *Pipeline) Dir(event Event) string {
	return filepath.Join(p.dir, string(event))
}

// Discover lists the executable plugins registered for event, sorted by path.
// A missing event directory yields no plugins and no error. Hidden files and
// directories are ignored.
func (p *Pipeline) Discover(event Event) ([]Plugin, error) {
	dir := p.Dir(event)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("plugin: failed to read %s: %w", dir, err)
	}

	var plugins []Plugin
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks so linked plugins are accepted.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		plugins = append(plugins, Plugin{Path: path, Event: event})
	}

	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Path < plugins[j].Path })
	return plugins, nil
}

// Invoke runs every plugin registered for event, in order, passing tenant and
// input. input is the artifact path for EventIngest and empty for EventCheck.
// The returned slice holds one Result per plugin and is empty, never nil, when
// there are none. Invoke never fails: discovery and plugin errors are audited
// and folded into the results.
func (p *Pipeline) Invoke(ctx context.Context, tenant, input string, event Event) []Result {
	plugins, err := p.Discover(event)
	if err != nil {
		p.audit.Record(ctx, audit.LevelError, "Error: plugin discovery failed (%s): %v", event, err)
		return []Result{}
	}
	p.audit.Record(ctx, audit.LevelInfo, "call active plugins (%s): %s", event, pathList(plugins))

	results := make([]Result, 0, len(plugins))
	if len(plugins) == 0 {
		return results
	}

	for _, plugin := range plugins {
		results = append(results, p.run(ctx, plugin, tenant, input))
	}
	return results
}

// run invokes one plugin and reduces its outcome to a Result. This is the
// only place a plugin failure is observed; it is recorded and never returned.
func (p *Pipeline) run(ctx context.Context, plugin Plugin, tenant, input string) Result {
	start := time.Now()
	code, stderr, err := p.runner.Run(ctx, plugin.Path, []string{"-s", tenant, "-i", input})
	res := Result{
		Plugin:   plugin,
		ExitCode: code,
		Err:      err,
		Duration: time.Since(start),
	}

	p.metrics.PluginInvoked(string(plugin.Event), res.Succeeded(), res.Duration)

	if res.Succeeded() {
		p.audit.Record(ctx, audit.LevelSuccess, "Success: could run plugin %s on file: %s", plugin.Path, input)
		return res
	}

	p.audit.Record(ctx, audit.LevelError, "Error: plugin %s returned error on file: %s", plugin.Path, input)
	p.logger.WarnContext(ctx, "plugin failed",
		logger.Component("plugin"),
		logger.Path(plugin.Path),
		slog.Int("exit_code", code),
		slog.String("stderr", stderr),
		logger.Error(err),
	)
	return res
}

func pathList(plugins []Plugin) string {
	paths := make([]string, 0, len(plugins))
	for _, pl := range plugins {
		paths = append(paths, pl.Path)
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return fmt.Sprint(paths)
	}
	return string(b)
}
