package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"bobo-rpc/client"
)

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call METHOD [PARAM...]",
		Short: "Call a remote method",
		Long: `Call sends METHOD with the given positional parameters and prints the result.
Each PARAM is used as JSON when it parses as JSON, otherwise as a string:

  bobo call data foobar        → params ["foobar"]
  bobo call add 1 2            → params [1, 2]
  bobo call sum '{"A":1}'      → params [{"A": 1}]`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, release, err := a.dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			value, err := d.Call(cmd.Context(), args[0], parseParams(args[1:]))
			return show(cmd, value, err)
		},
	}
}

// parseParams turns command-line words into positional params.
func parseParams(words []string) []any {
	params := make([]any, 0, len(words))
	for _, w := range words {
		var v any
		if err := json.Unmarshal([]byte(w), &v); err == nil {
			params = append(params, v)
			continue
		}
		params = append(params, w)
	}
	return params
}

// show prints an outcome the way a page would present it: the payload on stdout,
// anything else through the display.
func show(cmd *cobra.Command, value json.RawMessage, err error) error {
	display := client.WriterDisplay{W: cmd.ErrOrStderr()}
	h := client.Report(display, func(v json.RawMessage) {
		fmt.Fprintln(cmd.OutOrStdout(), string(v))
	})
	if err != nil {
		h.OnFailure(err)
		return reportedError{err}
	}
	h.OnSuccess(value)
	return nil
}

// reportedError has already been shown to the user.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }
