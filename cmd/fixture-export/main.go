package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/evo-deploy/internal/deploystore"
	"github.com/danielpatrickdp/evo-deploy/internal/fixture"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to evo_deploy.db")
	last := flag.Int("last", 4, "number of most recent deployments to export")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --out path/to/fixture.json [--last N]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath string, last int, outPath string) error {
	store, err := deploystore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	rows, err := store.List(last)
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("no deployments in %s", dbPath)
	}

	f := &fixture.Fixture{
		Description: fmt.Sprintf("exported from %s (last %d deployments)", dbPath, len(rows)),
	}
	for _, row := range rows {
		if !row.Status.Terminal() {
			continue
		}
		f.Candidates = append(f.Candidates, toCandidate(row))
		f.ExpectedResults = append(f.ExpectedResults, fixture.ExpectedResult{
			AgentID:  row.AgentID,
			Strategy: string(row.Strategy),
			Outcome:  string(row.Status),
		})
	}
	if len(f.Candidates) == 0 {
		return fmt.Errorf("no terminal deployments to export")
	}

	if err := fixture.Save(outPath, f); err != nil {
		return err
	}
	fmt.Printf("exported %d candidates to %s\n", len(f.Candidates), outPath)
	return nil
}

// toCandidate scripts a candidate that reproduces the recorded deployment:
// the stored risk score picks the same strategy, and the probe samples are
// chosen to reproduce the terminal status.
func toCandidate(row deploystore.DeploymentRow) fixture.Candidate {
	score := row.RiskScore
	cand := fixture.Candidate{
		AgentID:   row.AgentID,
		CommitID:  row.CommitID,
		RiskScore: &score,
	}

	switch row.Status {
	case rollout.StatusFailed:
		cand.DeployFails = true
	case rollout.StatusRolledBack:
		cand.Samples = []fixture.Sample{{ErrorRate: 1, LatencyMS: 5000}}
	default:
		cand.Samples = []fixture.Sample{{ErrorRate: 0, LatencyMS: 10}}
	}
	return cand
}

// #endregion extract
