package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/metrics"
	"github.com/tomasbasham/site-receiver/internal/server"
)

type ServeOptions struct {
	cfg *config.Config

	Addr           string
	MaxUploadBytes int64
	MaxFileBytes   int64
	TempDir        string

	ConfigFlags
	iooption.IOStreams
}

var (
	serveLong = templates.LongDesc(`
		Start the receiver HTTP server.

		Authentication is expected to happen in a fronting proxy, which passes
		the user on as basic auth credentials or through the principal header.
		Uploads are stored below <root-dir>/d/<site> and the plugins found in
		<plugin-dir>/test and <plugin-dir>/store are run for every check and
		stored file.`)

	serveExample = templates.Examples(`
		# Serve site "siteA" on the default address
		receiver serve --site siteA

		# Serve on a custom address with a specific deployment root
		receiver serve --addr :9090 --root-dir /srv/receiver --site siteA`)
)

func NewServeOptions(streams iooption.IOStreams) *ServeOptions {
	return &ServeOptions{
		IOStreams: streams,
	}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the receiver HTTP server",
		Long:    serveLong,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	o.ConfigFlags.AddFlags(cmd)
	cmd.Flags().StringVarP(&o.Addr, "addr", "a", "", "Address to listen on (env RECEIVER_ADDR)")
	cmd.Flags().Int64Var(&o.MaxUploadBytes, "max-upload-bytes", 0, "Maximum request body size (env RECEIVER_MAX_UPLOAD_BYTES)")
	cmd.Flags().Int64Var(&o.MaxFileBytes, "max-file-bytes", 0, "Maximum size of a single file, 0 for none (env RECEIVER_MAX_FILE_BYTES)")
	cmd.Flags().StringVar(&o.TempDir, "temp-dir", "", "Directory for in-flight uploads; on the same filesystem as root-dir uploads are moved instead of copied")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := o.ConfigFlags.Load(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = o.Addr
	}
	if cmd.Flags().Changed("max-upload-bytes") {
		cfg.MaxUploadBytes = o.MaxUploadBytes
	}
	if cmd.Flags().Changed("max-file-bytes") {
		cfg.MaxFileBytes = o.MaxFileBytes
	}
	o.cfg = cfg
	return nil
}

func (o *ServeOptions) Validate() error {
	if o.cfg.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	return o.cfg.Validate()
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to initialise metrics: %w", err)
	}

	c, err := newComponents(ctx, o.cfg, o.ErrOut, m)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := server.New(c.dispatcher, server.Options{
		MaxUploadBytes:  o.cfg.MaxUploadBytes,
		MaxFileBytes:    o.cfg.MaxFileBytes,
		PrincipalHeader: o.cfg.PrincipalHeader,
		TrustProxy:      o.cfg.TrustProxy,
		TempDir:         o.TempDir,
		Metrics:         m,
		Logger:          c.logger,
	})

	c.logger.Info("starting receiver server",
		"addr", o.cfg.Addr,
		"root_dir", o.cfg.RootDir,
		"plugin_dir", o.cfg.PluginDir,
		"audit_log", o.cfg.LogFile,
	)
	return srv.ListenAndServe(ctx, o.cfg.Addr)
}
