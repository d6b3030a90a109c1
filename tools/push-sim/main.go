// Command push-sim builds workflow envelopes and delivers them to the worker's
// push endpoint the way the broker would, including duplicate redeliveries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "push-sim:", err)
		os.Exit(1)
	}
}
