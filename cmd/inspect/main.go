package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/evo-deploy/internal/deploystore"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to evo_deploy.db")
	last := flag.Int("last", 20, "show N most recent deployments")
	deployment := flag.String("deployment", "", "show single deployment with its event log")
	stats := flag.Bool("stats", false, "show per-strategy outcome stats by risk band")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/evo_deploy.db [--last N] [--deployment id] [--stats] [--json]")
		os.Exit(2)
	}

	store, err := deploystore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var runErr error
	switch {
	case *stats:
		runErr = runStatsMode(store, *jsonOut)
	case *deployment != "":
		runErr = runDetailMode(store, *deployment, *jsonOut)
	default:
		runErr = runListMode(store, *last, *jsonOut)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(store *deploystore.Store, last int, jsonOut bool) error {
	rows, err := store.List(last)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "no deployments found")
		return nil
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	active, err := store.ActiveRelease()
	activeID := ""
	if err == nil {
		activeID = active.ID
	}

	fmt.Printf("%-36s %-12s %-10s %-12s %5s  %s\n",
		"DEPLOYMENT", "AGENT", "STRATEGY", "STATUS", "RISK", "UPDATED")
	for _, r := range rows {
		marker := " "
		if r.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%-36s %-12s %-10s %-12s %5.2f  %s %s\n",
			r.ID, r.AgentID, r.Strategy, r.Status, r.RiskScore,
			r.UpdatedAt.Format("2006-01-02T15:04:05Z"), marker)
	}
	if activeID != "" {
		fmt.Println("\n* active release")
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(store *deploystore.Store, id string, jsonOut bool) error {
	row, err := store.Get(id)
	if err != nil {
		return err
	}
	events, err := store.Events(id)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Deployment deploystore.DeploymentRow `json:"deployment"`
			Events     []deploystore.Event       `json:"events"`
		}{row, events})
	}

	fmt.Printf("deployment %s\n", row.ID)
	fmt.Printf("  agent:    %s (commit %s)\n", row.AgentID, row.CommitID)
	fmt.Printf("  strategy: %s  risk=%.3f\n", row.Strategy, row.RiskScore)
	fmt.Printf("  status:   %s (stage %d)\n", row.Status, row.StageIndex)
	if row.Message != "" {
		fmt.Printf("  message:  %s\n", row.Message)
	}
	fmt.Printf("  created:  %s\n\n", row.CreatedAt.Format("2006-01-02T15:04:05Z"))

	for _, ev := range events {
		fmt.Printf("  %s  stage %d  %s\n",
			ev.CreatedAt.Format("15:04:05.000"), ev.StageIndex, ev.Status)
	}
	return nil
}

// #endregion detail-mode

// #region stats-mode

func runStatsMode(store *deploystore.Store, jsonOut bool) error {
	memory, err := deploystore.NewOutcomeMemory(store.DB())
	if err != nil {
		return err
	}

	all := make([]deploystore.StrategyStat, 0)
	for _, band := range []string{"low", "medium", "high"} {
		stats, err := memory.StrategyStats(band)
		if err != nil {
			return err
		}
		all = append(all, stats...)
	}
	if len(all) == 0 {
		fmt.Fprintln(os.Stderr, "no rollout outcomes recorded")
		return nil
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}

	fmt.Printf("%-8s %-10s %7s  %s\n", "BAND", "STRATEGY", "SAMPLES", "SUCCESS RATE")
	for _, s := range all {
		fmt.Printf("%-8s %-10s %7d  %.3f\n", s.RiskBand, s.Strategy, s.Samples, s.SuccessRate)
	}
	fmt.Println("\nsuccess rates are decay-weighted (half-life 7 days)")
	return nil
}

// #endregion stats-mode
