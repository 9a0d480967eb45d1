// Command finctl is the admin CLI: schema migrations, chart seeding and
// ledger maintenance.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "finctl: %v\n", err)
		os.Exit(1)
	}
}
