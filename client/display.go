package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// NoDataMessage is shown when a call completed without any payload.
const NoDataMessage = "No JSON data available."

// Display shows a message to the user (an alert box in a browser, a line on a terminal).
type Display interface {
	DisplayMessage(text string)
}

// WriterDisplay prints each message as a line on W.
type WriterDisplay struct {
	W io.Writer
}

func (d WriterDisplay) DisplayMessage(text string) {
	fmt.Fprintln(d.W, text)
}

// LogDisplay sends messages to a structured logger at warn level.
type LogDisplay struct {
	Logger *slog.Logger
}

func (d LogDisplay) DisplayMessage(text string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(text)
}

// Report adapts a Display into a CompletionHandler: values go to show, an absent or
// null value displays NoDataMessage, failures display their error text.
func Report(display Display, show func(value json.RawMessage)) CompletionHandler {
	return HandlerFuncs{
		Success: func(value json.RawMessage) {
			if value == nil || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
				display.DisplayMessage(NoDataMessage)
				return
			}
			if show != nil {
				show(value)
			}
		},
		Failure: func(err error) {
			display.DisplayMessage(err.Error())
		},
	}
}
