// Command bobo calls a bobo-rpc service from the terminal and runs the demo service.
//
//	bobo serve --listen :8080
//	bobo call data foobar --service-url http://localhost:8080
//	bobo fetch --service-url http://localhost:8080
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
