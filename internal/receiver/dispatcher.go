package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tomasbasham/site-receiver/internal/audit"
	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/logger"
	"github.com/tomasbasham/site-receiver/internal/metrics"
	"github.com/tomasbasham/site-receiver/internal/plugin"
	"github.com/tomasbasham/site-receiver/internal/storage"
)

// ErrUnauthenticated is returned when no identity could be resolved. The
// transport must answer without a body.
var ErrUnauthenticated = errors.New("receiver: unauthenticated")

// Resolver resolves the caller identity from the request context.
type Resolver interface {
	Resolve(ctx context.Context) (identity.Identity, error)
}

// Store persists a single uploaded file.
type Store interface {
	Store(ctx context.Context, tenant string, file storage.UploadedFile, remoteParty string) (*storage.Artifact, error)
}

// Hooks runs the plugins registered for an event.
type Hooks interface {
	Invoke(ctx context.Context, tenant, input string, event plugin.Event) []plugin.Result
}

// Mirror copies a stored artifact to secondary storage.
type Mirror interface {
	Backend() string
	Mirror(ctx context.Context, a *storage.Artifact) (*storage.UploadResult, error)
}

// Options configures a Dispatcher. Resolver, Store and Hooks are required.
type Options struct {
	Resolver Resolver
	Store    Store
	Hooks    Hooks
	Audit    audit.Recorder
	Mirror   Mirror
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CheckOKResponse answers the check action with error 0. By default the
	// legacy {"error": 1, "message": "ok"} is kept for existing clients.
	CheckOKResponse bool
}

// Dispatcher routes requests to the check and ingest flows.
type Dispatcher struct {
	resolver Resolver
	store    Store
	hooks    Hooks
	audit    audit.Recorder
	mirror   Mirror
	metrics  *metrics.Metrics
	logger   *slog.Logger
	checkOK  bool
}

// NewDispatcher creates a Dispatcher from opts.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		resolver: opts.Resolver,
		store:    opts.Store,
		hooks:    opts.Hooks,
		audit:    opts.Audit,
		mirror:   opts.Mirror,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		checkOK:  opts.CheckOKResponse,
	}
	if d.audit == nil {
		d.audit = audit.Discard{}
	}
	if d.logger == nil {
		d.logger = logger.Discard()
	}
	d.logger = d.logger.With(logger.Component("dispatcher"))
	return d
}

// Dispatch handles one request. It returns an error wrapping
// ErrUnauthenticated when the caller cannot be resolved; every other failure
// is reported through the outcome segments.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	d.audit.Record(ctx, audit.LevelInfo, "Info: called receiver")

	id, err := d.resolver.Resolve(ctx)
	if err != nil {
		d.audit.Record(ctx, audit.LevelError, "Error: %s", authReason(err))
		d.metrics.RequestDispatched(actionLabel(req.Action), "unauthenticated")
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	out := &Outcome{Identity: id}
	log := d.logger.With(logger.Tenant(id.Tenant), logger.Principal(id.Principal))

	action, ok := ParseAction(req.Action)
	switch {
	case !ok:
		log.WarnContext(ctx, "unknown action", slog.String("action", req.Action))
		d.respondError(ctx, out, "Error: unknown action")
	case action == ActionCheck:
		d.check(ctx, out)
	case action == ActionIngest:
		d.ingest(ctx, log, out, req)
	}

	d.metrics.RequestDispatched(actionLabel(req.Action), resultLabel(out))
	return out, nil
}

func (d *Dispatcher) check(ctx context.Context, out *Outcome) {
	if d.checkOK {
		d.respondOK(ctx, out, "ok")
	} else {
		d.respondError(ctx, out, "ok")
	}
	d.audit.Record(ctx, audit.LevelInfo, "test ok")

	// Plugin outcomes never change the check response.
	_ = d.hooks.Invoke(ctx, out.Identity.Tenant, "", plugin.EventCheck)
}

func (d *Dispatcher) ingest(ctx context.Context, log *slog.Logger, out *Outcome, req Request) {
	d.audit.Record(ctx, audit.LevelInfo, "store called")

	if len(req.Files) == 0 {
		d.respondError(ctx, out, "Error: no files attached to upload")
		return
	}

	batch := req.Batch || len(req.Files) > 1
	tenant := out.Identity.Tenant

	for _, file := range req.Files {
		artifact, err := d.store.Store(ctx, tenant, file, req.RemoteParty)
		if err != nil {
			log.WarnContext(ctx, "failed to store upload", slog.String("name", file.Name), logger.Error(err))
			d.metrics.FileFailed(failureLabel(err))
			d.respondError(ctx, out, failureMessage(err))
			continue
		}

		out.Stored = append(out.Stored, artifact)
		d.metrics.FileStored(artifact.Size)
		d.audit.Record(ctx, audit.LevelInfo, "uploaded file: %s", artifact.Path)

		d.mirrorArtifact(ctx, log, artifact)

		// Plugins are advisory; a failing plugin does not undo the store.
		_ = d.hooks.Invoke(ctx, tenant, artifact.Path, plugin.EventIngest)
	}

	count := len(out.Stored)
	switch {
	case !batch && count == 1:
		d.respondOK(ctx, out, "Info: file stored")
	case !batch:
		// The single file's own error segment is the whole response.
	case count == 1:
		d.respondOK(ctx, out, "Info: 1 file stored")
	case count > 1:
		d.respondOK(ctx, out, fmt.Sprintf("Info: %d files stored", count))
	default:
		d.respondError(ctx, out, "Error: no file was stored.")
	}
}

func (d *Dispatcher) mirrorArtifact(ctx context.Context, log *slog.Logger, a *storage.Artifact) {
	if d.mirror == nil {
		return
	}

	res, err := d.mirror.Mirror(ctx, a)
	d.metrics.Mirrored(d.mirror.Backend(), err)
	if err != nil {
		log.WarnContext(ctx, "failed to mirror artifact", logger.Path(a.Path), logger.Error(err))
		d.audit.Record(ctx, audit.LevelError, "Error: could not mirror file %s to %s", a.Path, d.mirror.Backend())
		return
	}
	d.audit.Record(ctx, audit.LevelInfo, "mirrored file: %s to %s", a.Path, res.URL)
}

func (d *Dispatcher) respondError(ctx context.Context, out *Outcome, msg string) {
	out.Segments = append(out.Segments, Response{Error: 1, Message: msg})
	d.audit.Record(ctx, audit.LevelError, "Error: %s", msg)
}

func (d *Dispatcher) respondOK(ctx context.Context, out *Outcome, msg string) {
	out.Segments = append(out.Segments, Response{Error: 0, Message: msg})
	d.audit.Record(ctx, audit.LevelSuccess, "Ok: %s", msg)
}

// failureMessage renders a store failure as the client-facing message.
func failureMessage(err error) string {
	var storeErr *storage.StoreError
	switch {
	case errors.Is(err, storage.ErrTransferFailed):
		return "Error: upload error"
	case errors.Is(err, storage.ErrDirectoryCreateFailed):
		return "Error: Failed to create site directory for storage"
	case errors.As(err, &storeErr) && storeErr.Path != "":
		return "Error: failed storing file " + storeErr.Path
	default:
		return "Error: failed storing file"
	}
}

func authReason(err error) string {
	var authErr *identity.AuthError
	if errors.As(err, &authErr) {
		return authErr.Err.Error()
	}
	return err.Error()
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, storage.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, storage.ErrDirectoryCreateFailed):
		return "directory_create_failed"
	default:
		return "move_failed"
	}
}

func actionLabel(raw string) string {
	action, ok := ParseAction(raw)
	if !ok {
		return "unknown"
	}
	return string(action)
}

func resultLabel(out *Outcome) string {
	if final, ok := out.Final(); ok && final.OK() {
		return "ok"
	}
	return "error"
}
