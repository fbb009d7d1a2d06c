// Command sqlmap runs SQL against a database/sql driver and prints the rows
// as JSON lines.
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
