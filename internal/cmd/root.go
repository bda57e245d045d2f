package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Receive files uploaded for a site, store them below the site directory
		and run the operator supplied plugins for every stored file.

		Configuration is read from RECEIVER_* environment variables and an
		optional .env file; flags override both.`)

	rootExamples = templates.Examples(`
		# Serve uploads for site "siteA"
		receiver serve --site siteA

		# Store a local file for site "siteA"
		receiver ingest --site siteA export.csv`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// ReceiverOptions defines the options for the `receiver` command.
type ReceiverOptions struct {
	iooption.IOStreams
}

// NewReceiverOptions provides an initialised ReceiverOptions instance.
func NewReceiverOptions(streams iooption.IOStreams) *ReceiverOptions {
	return &ReceiverOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `receiver` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewReceiverOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `receiver` command and its nested
// children.
func NewRootCommandWithArgs(o *ReceiverOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "receiver [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Multi-site file upload receiver",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewServeCommand(NewServeOptions(o.IOStreams)))
	cmd.AddCommand(NewIngestCommand(NewIngestOptions(o.IOStreams)))
	cmd.AddCommand(NewCheckCommand(NewCheckOptions(o.IOStreams)))
	cmd.AddCommand(NewPluginsCommand(NewPluginsOptions(o.IOStreams)))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
