// jitprof correlates Linux perf samples with JIT-compiled code traced by
// a JVMTI agent and renders annotated disassembly of the hot regions.
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/jitprof/jitprof/internal/cli"
)

func main() {
	err := cli.New().ParseAndRun(context.Background(), os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}
