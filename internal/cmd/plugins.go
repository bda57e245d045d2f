package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/plugin"
)

type PluginsOptions struct {
	cfg *config.Config

	ConfigFlags
	iooption.IOStreams
}

var (
	pluginsLong = templates.LongDesc(`
		List the plugins that would run for each event, in execution order.`)

	pluginsExample = templates.Examples(`
		# List plugins below the default plugin directory
		receiver plugins --site siteA

		# List plugins in a custom directory
		receiver plugins --site siteA --plugin-dir ./plugins`)
)

func NewPluginsOptions(streams iooption.IOStreams) *PluginsOptions {
	return &PluginsOptions{
		IOStreams: streams,
	}
}

func NewPluginsCommand(o *PluginsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Short:   "List discovered plugins",
		Long:    pluginsLong,
		Example: pluginsExample,
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

	return cmd
}

func (o *PluginsOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := o.ConfigFlags.Load(cmd)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *PluginsOptions) Validate() error {
	return nil
}

func (o *PluginsOptions) Run() error {
	p := plugin.NewPipeline(o.cfg.PluginDir)

	w := tabwriter.NewWriter(o.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tORDER\tPATH")
	for _, event := range []plugin.Event{plugin.EventCheck, plugin.EventIngest} {
		plugins, err := p.Discover(event)
		if err != nil {
			return fmt.Errorf("failed to discover %s plugins in %s: %w", event, p.Dir(event), err)
		}
		for i, pl := range plugins {
			fmt.Fprintf(w, "%s\t%d\t%s\n", event, i+1, pl.Path)
		}
	}
	return w.Flush()
}
