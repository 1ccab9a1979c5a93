// Command jsctx runs JavaScript on a jscontext thread, with a goja engine.
//
// Usage:
//
//	jsctx run [--config file] [--log-level level] [-e code] [script.js...]
//	jsctx scenario [--config file] scenario.yaml...
//
// Console output and the realm's error and rejection events go to stdout,
// structured logs go to stderr.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "jsctx:", err)
		os.Exit(1)
	}
}
