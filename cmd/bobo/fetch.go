package main

import (
	"github.com/spf13/cobra"

	"bobo-rpc/config"
)

func newFetchCmd(a *app) *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Load the service data the way the browser page does",
		Long: `Fetch injects a script for SERVICE_URL/json?callback=callbackN into a page and
waits for the callback, giving up after script_timeout. A missing payload prints
"No JSON data available.". With --direct the padded body is fetched and unwrapped
without running it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Transport = config.TransportScript
			if direct {
				a.cfg.Transport = config.TransportFetch
			}

			d, release, err := a.dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			value, err := d.Call(cmd.Context(), "data", nil)
			return show(cmd, value, err)
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "fetch and unwrap the padded body instead of running it")
	return cmd
}
