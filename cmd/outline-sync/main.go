// Command outline-sync parses numbered outlines into topic trees, syncs them
// into a staging store, and runs batches of such syncs as resumable jobs.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, signal.Ignore))
}
