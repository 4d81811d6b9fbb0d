package deploystore

import (
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region schema

const outcomesSchema = `
CREATE TABLE IF NOT EXISTS rollout_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    deployment_id TEXT NOT NULL,
    strategy      TEXT NOT NULL,
    risk_band     TEXT NOT NULL,
    success       INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
`

const outcomesIndex = `
CREATE INDEX IF NOT EXISTS idx_rollout_outcomes_lookup
ON rollout_outcomes(risk_band, strategy);
`

// #endregion

// #region risk-band

// BandFor buckets a risk score into the band used for outcome lookups,
// mirroring the selector's thresholds.
func BandFor(score float64, t rollout.Thresholds) string {
	switch {
	case score < t.Low:
		return "low"
	case score < t.Medium:
		return "medium"
	default:
		return "high"
	}
}

// #endregion

// #region memory-struct

// OutcomeRecord is one finished deployment's result, bucketed by risk band.
type OutcomeRecord struct {
	DeploymentID string
	Strategy     rollout.Strategy
	RiskBand     string
	Success      bool
	Duration     time.Duration
	CreatedAt    time.Time
}

// OutcomeMemory persists rollout outcomes in SQLite and answers
// decay-weighted success-rate queries, so recent deployments count more
// than stale ones.
type OutcomeMemory struct {
	db *sql.DB
}

// NewOutcomeMemory initializes the rollout_outcomes table.
func NewOutcomeMemory(db *sql.DB) (*OutcomeMemory, error) {
	if _, err := db.Exec(outcomesSchema); err != nil {
		return nil, err
	}
	if _, err := db.Exec(outcomesIndex); err != nil {
		return nil, err
	}
	return &OutcomeMemory{db: db}, nil
}

// #endregion

// #region record-outcome

// RecordOutcome persists a single rollout outcome row.
func (m *OutcomeMemory) RecordOutcome(rec OutcomeRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := m.db.Exec(`
		INSERT INTO rollout_outcomes
		(deployment_id, strategy, risk_band, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DeploymentID,
		string(rec.Strategy),
		rec.RiskBand,
		success,
		rec.Duration.Milliseconds(),
		rec.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// #endregion

// #region strategy-stats

// outcomeHalfLife is the age at which an outcome's weight halves.
const outcomeHalfLife = 7.0 * 24.0 // hours

// StrategyStat summarizes one strategy's decay-weighted record within a
// risk band.
type StrategyStat struct {
	Strategy    rollout.Strategy `json:"strategy"`
	RiskBand    string           `json:"risk_band"`
	Samples     int              `json:"samples"`
	SuccessRate float64          `json:"success_rate"`
}

// StrategyStats aggregates the band's outcomes per strategy, weighting each
// by exp(-age/halfLife) so recent deployments count more than stale ones.
// Sorted by success rate descending, strategy name breaking ties.
func (m *OutcomeMemory) StrategyStats(riskBand string) ([]StrategyStat, error) {
	rows, err := m.db.Query(`
		SELECT strategy, success, created_at
		FROM rollout_outcomes
		WHERE risk_band = ?`,
		riskBand,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type accum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	now := time.Now()
	byStrategy := make(map[rollout.Strategy]*accum)

	for rows.Next() {
		var strat string
		var success int
		var createdAtStr string
		if err := rows.Scan(&strat, &success, &createdAtStr); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		ageHours := now.Sub(createdAt).Hours()
		weight := math.Exp(-ageHours / outcomeHalfLife)

		s := rollout.Strategy(strat)
		if _, ok := byStrategy[s]; !ok {
			byStrategy[s] = &accum{}
		}
		byStrategy[s].weightedSum += float64(success) * weight
		byStrategy[s].totalWeight += weight
		byStrategy[s].count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]StrategyStat, 0, len(byStrategy))
	for s, a := range byStrategy {
		stats = append(stats, StrategyStat{
			Strategy:    s,
			RiskBand:    riskBand,
			Samples:     a.count,
			SuccessRate: a.weightedSum / a.totalWeight,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].SuccessRate != stats[j].SuccessRate {
			return stats[i].SuccessRate > stats[j].SuccessRate
		}
		return stats[i].Strategy < stats[j].Strategy
	})
	return stats, nil
}

// #endregion

// #region best-strategy

// BestStrategy returns the strategy with the highest decay-weighted success
// rate for the given risk band. Returns ("", 0, nil) if no strategy has at
// least 3 samples, so callers fall back to the threshold mapping.
func (m *OutcomeMemory) BestStrategy(riskBand string) (rollout.Strategy, float64, error) {
	stats, err := m.StrategyStats(riskBand)
	if err != nil {
		return "", 0, err
	}
	for _, s := range stats {
		if s.Samples >= 3 {
			return s.Strategy, s.SuccessRate, nil
		}
	}
	return "", 0, nil
}

// #endregion
