// Command synccore runs the Unified Sync Core as a standalone process: a
// one-shot or scheduled reconciliation across whichever adapters an
// embedding deployment registers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
