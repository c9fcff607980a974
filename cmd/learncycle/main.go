package main

import (
	"errors"
	"fmt"
	"os"
)

// errUnsuccessful marks a cycle that ran but did not succeed. The host treats
// it as a soft failure: exit 1, never a crash.
var errUnsuccessful = errors.New("learning cycle unsuccessful")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errUnsuccessful) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
