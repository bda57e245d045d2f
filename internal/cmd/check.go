package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/site-receiver/internal/config"
	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/receiver"
)

type CheckOptions struct {
	cfg *config.Config

	Principal string

	ConfigFlags
	iooption.IOStreams
}

var (
	checkLong = templates.LongDesc(`
		Run the check action locally.

		The check plugins of the site are run and the response a client would
		receive is printed.`)

	checkExample = templates.Examples(`
		# Check site "siteA"
		receiver check --site siteA`)
)

func NewCheckOptions(streams iooption.IOStreams) *CheckOptions {
	return &CheckOptions{
		IOStreams: streams,
	}
}

func NewCheckCommand(o *CheckOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check",
		Short:   "Run the check action and its plugins",
		Long:    checkLong,
		Example: checkExample,
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
	cmd.Flags().StringVarP(&o.Principal, "principal", "u", os.Getenv("USER"), "User recorded as the caller")

	return cmd
}

func (o *CheckOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := o.ConfigFlags.Load(cmd)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func (o *CheckOptions) Validate() error {
	if o.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	return nil
}

func (o *CheckOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, o.cfg, o.ErrOut, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	outcome, err := c.dispatcher.Dispatch(identity.WithPrincipal(ctx, o.Principal), receiver.Request{
		Action: string(receiver.ActionCheck),
	})
	if err != nil {
		return err
	}
	return outcome.Encode(o.Out)
}
