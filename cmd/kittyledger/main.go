// Command kittyledger drives the kitty ledger from the command line: create,
// transfer and breed kitties, inspect ownership and genealogy, replay YAML
// scenarios, and archive or restore ledger snapshots.
package main

import (
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}
