// Package main provides crlite-mlbf, a batch tool that reconciles
// per-issuer certificate status records into a multi-level bloom filter
// artifact with incremental-build support.
package main

import (
	"os"

	"crlite/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args))
}
