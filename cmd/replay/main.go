package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/evo-deploy/internal/fixture"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "output results as JSON")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json]")
		os.Exit(2)
	}

	os.Exit(runFixture(*fixturePath, *jsonOut))
}

// #endregion main

// #region fixture-mode

func runFixture(path string, jsonOut bool) int {
	f, err := fixture.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	results, err := fixture.Replay(context.Background(), f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "encode results: %v\n", err)
			return 2
		}
	} else {
		if f.Description != "" {
			fmt.Printf("fixture: %s\n\n", f.Description)
		}
		for _, r := range results {
			fmt.Printf("%-20s accuracy=%.3f risk=%.3f strategy=%-10s outcome=%s\n",
				r.AgentID, r.Fitness.Accuracy, r.RiskScore, r.Strategy, r.Outcome)
		}
		s := fixture.Summarize(results)
		fmt.Printf("\n%d candidates: %d completed, %d rolled back, %d failed\n",
			s.TotalCandidates, s.Completed, s.RolledBack, s.Failed)
	}

	return verify(f, results)
}

// verify compares the replay outcomes against the fixture's expectations,
// if it carries any. Mismatches make the run exit non-zero so fixtures work
// as regression checks in CI.
func verify(f *fixture.Fixture, results []fixture.ReplayResult) int {
	if len(f.ExpectedResults) == 0 {
		return 0
	}

	byAgent := make(map[string]fixture.ReplayResult, len(results))
	for _, r := range results {
		byAgent[r.AgentID] = r
	}

	mismatches := 0
	for _, exp := range f.ExpectedResults {
		got, ok := byAgent[exp.AgentID]
		if !ok {
			fmt.Fprintf(os.Stderr, "MISMATCH %s: no result\n", exp.AgentID)
			mismatches++
			continue
		}
		if exp.Strategy != "" && string(got.Strategy) != exp.Strategy {
			fmt.Fprintf(os.Stderr, "MISMATCH %s: expected strategy %s, got %s\n",
				exp.AgentID, exp.Strategy, got.Strategy)
			mismatches++
		}
		if exp.Outcome != "" && string(got.Outcome) != exp.Outcome {
			fmt.Fprintf(os.Stderr, "MISMATCH %s: expected outcome %s, got %s\n",
				exp.AgentID, exp.Outcome, got.Outcome)
			mismatches++
		}
	}
	if mismatches > 0 {
		fmt.Fprintf(os.Stderr, "%d expectation(s) failed\n", mismatches)
		return 1
	}
	fmt.Println("all expectations met")
	return 0
}

// #endregion fixture-mode
