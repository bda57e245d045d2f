package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/receiver"
	"github.com/tomasbasham/site-receiver/internal/storage"
)

type IngestOptions struct {
	cfg     *config.Config
	outFile *os.File

	Paths       []string
	Principal   string
	RemoteParty string
	Batch       bool
	OutPath     string

	ConfigFlags
	iooption.IOStreams
}

var (
	ingestLong = templates.LongDesc(`
		Ingest local files into a site as if they had been uploaded.

		Files go through the same store and plugin chain as HTTP uploads. They
		are copied, so the originals are left in place. The response segments
		are printed as JSON.`)

	ingestExample = templates.Examples(`
		# Store a single file for site "siteA"
		receiver ingest --site siteA export.csv

		# Store several files as one batch and keep the response
		receiver ingest --site siteA -o response.json day1.csv day2.csv`)
)

func NewIngestOptions(streams iooption.IOStreams) *IngestOptions {
	return &IngestOptions{
		IOStreams: streams,
	}
}

func NewIngestCommand(o *IngestOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "ingest FILE...",
		DisableFlagsInUseLine: true,
		Short:                 "Store local files through the receiver",
		Long:                  ingestLong,
		Example:               ingestExample,
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
	cmd.Flags().StringVarP(&o.Principal, "principal", "u", os.Getenv("USER"), "User recorded as the uploader")
	cmd.Flags().StringVar(&o.RemoteParty, "remote-party", "localhost", "Origin embedded in the stored file names")
	cmd.Flags().BoolVar(&o.Batch, "batch", false, "Report a counted result even for a single file")
	cmd.Flags().StringVarP(&o.OutPath, "out", "o", "", "Output file (default: stdout)")

	return cmd
}

func (o *IngestOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("at least one file is required")
	}
	o.Paths = args

	cfg, err := o.ConfigFlags.Load(cmd)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *IngestOptions) Validate() error {
	if o.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	for _, p := range o.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("cannot ingest %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("cannot ingest %s: not a regular file", p)
		}
	}

	// Setup output. If an output file is specified, create it.
	if o.OutPath != "" {
		f, err := os.Create(o.OutPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		o.outFile = f // store for later cleanup.
	}

	return nil
}

func (o *IngestOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var out io.Writer = o.Out
	if o.outFile != nil {
		defer o.outFile.Close()
		out = o.outFile
	}

	c, err := newComponents(ctx, o.cfg, o.ErrOut, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	files := make([]storage.UploadedFile, 0, len(o.Paths))
	for _, p := range o.Paths {
		files = append(files, storage.UploadedFile{
			Name:   filepath.Base(p),
			Source: storage.FileSource(p),
			Status: storage.TransferOK,
		})
	}

	outcome, err := c.dispatcher.Dispatch(identity.WithPrincipal(ctx, o.Principal), receiver.Request{
		Action:      string(receiver.ActionIngest),
		RemoteParty: o.RemoteParty,
		Files:       files,
		Batch:       o.Batch,
	})
	if err != nil {
		return err
	}
	if err := outcome.Encode(out); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if final, ok := outcome.Final(); !ok || !final.OK() {
		return errors.New("no file was stored")
	}
	for _, a := range outcome.Stored {
		fmt.Fprintf(o.ErrOut, "Stored %s\n", a.Path)
	}
	return nil
}
