// Command batchgen runs batched token generation from the command line or
// serves it over HTTP.
//
//	@title			batchgen API
//	@version		1.0
//	@description	Batched streaming token generation over a replica pool.
//	@BasePath		/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
