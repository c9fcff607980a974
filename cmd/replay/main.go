package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/VeloF2025/PAI-sub000/internal/logging"
	"github.com/VeloF2025/PAI-sub000/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	keep := flag.Bool("keep", false, "keep the scratch root for inspection")
	jsonOut := flag.Bool("json", false, "output results as JSON")
	logLevel := flag.String("log-level", "warn", "debug | info | warn | error")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--keep] [--json]")
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *keep, *jsonOut, *logLevel))
}

// #endregion main

// #region fixture-mode

func run(fixturePath string, keep, jsonOut bool, logLevel string) int {
	log, closer, err := logging.Setup(logging.Options{Level: logLevel, Service: "replay"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		return 2
	}
	defer closer.Close()

	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	root, err := os.MkdirTemp("", "learncycle-replay-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scratch root: %v\n", err)
		return 2
	}
	if keep {
		fmt.Fprintf(os.Stderr, "scratch root: %s\n", root)
	} else {
		defer os.RemoveAll(root)
	}

	res, err := replay.Replay(context.Background(), f, root, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal json: %v\n", err)
			return 2
		}
		fmt.Println(string(data))
	} else {
		printResults(f, res)
	}

	if !res.Passed() {
		return 1
	}
	return 0
}

func printResults(f *replay.Fixture, res replay.ReplayResult) {
	if f.Description != "" {
		fmt.Printf("Fixture: %s\n\n", f.Description)
	}
	fmt.Printf("%-5s  %-9s  %-7s  %-8s  %7s  %s\n", "Cycle", "Decision", "Success", "Rollback", "Changes", "Result")
	fmt.Printf("%-5s+-%-9s+-%-7s+-%-8s+-%7s+-%s\n", "-----", "---------", "-------", "--------", "-------", "------")
	for _, c := range res.Cycles {
		r := c.Record
		result := "ok"
		if len(c.Mismatches) > 0 {
			result = "MISMATCH"
		}
		fmt.Printf("%-5d  %-9s  %-7v  %-8v  %7d  %s\n",
			c.Index+1, r.Decision, r.Success, r.RollbackPerformed, r.Proposals.Total(), result)
		for _, m := range c.Mismatches {
			fmt.Printf("       - %s\n", m)
		}
		if len(r.Errors) > 0 {
			fmt.Printf("       errors: %s\n", strings.Join(r.Errors, "; "))
		}
	}

	s := res.Summary
	fmt.Printf("\n%d cycle(s): %d committed, %d rolled back, %d no-op, %d unsuccessful\n",
		s.Total, s.Committed, s.RolledBack, s.NoOps, s.Failed)
	if res.Passed() {
		fmt.Println("PASS")
	} else {
		fmt.Println("FAIL")
	}
}

// #endregion fixture-mode
