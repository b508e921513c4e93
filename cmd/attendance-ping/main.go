// Command attendance-ping runs either side of the proximity ping on the
// simulated radio: a host that answers, a student that pings, and a gRPC
// bridge for UI processes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
