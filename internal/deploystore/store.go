package deploystore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	deployment_id TEXT PRIMARY KEY,
	agent_id      TEXT NOT NULL,
	commit_id     TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	risk_score    REAL NOT NULL,
	status        TEXT NOT NULL,
	stage_index   INTEGER NOT NULL DEFAULT 0,
	message       TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deployment_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	stage_index   INTEGER NOT NULL,
	detail        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (deployment_id) REFERENCES deployments(deployment_id)
);

CREATE TABLE IF NOT EXISTS active_release (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	deployment_id TEXT NOT NULL,
	FOREIGN KEY (deployment_id) REFERENCES deployments(deployment_id)
);
`

// #endregion schema

// #region rows

// DeploymentRow is the persisted form of a deployment, including its final
// message.
type DeploymentRow struct {
	ID         string
	AgentID    string
	CommitID   string
	Strategy   rollout.Strategy
	RiskScore  float64
	Status     rollout.Status
	StageIndex int
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event is one recorded state transition.
type Event struct {
	DeploymentID string
	Status       rollout.Status
	StageIndex   int
	Detail       string
	CreatedAt    time.Time
}

// #endregion rows

// #region store-struct

// Store persists deployment history in SQLite: one row per deployment, an
// append-only event log of its transitions, and an active-release pointer
// naming the artifact currently serving traffic.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens a SQLite database and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. outcome
// memory).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region record

// Record upserts a deployment row from a controller record and appends a
// transition event, so wiring it to the controller's OnTransition hook
// yields a full audit trail.
func (s *Store) Record(rec rollout.DeploymentRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO deployments (deployment_id, agent_id, commit_id, strategy, risk_score, status, stage_index, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(deployment_id) DO UPDATE SET
		   status = excluded.status,
		   stage_index = excluded.stage_index,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.AgentID, rec.CommitID, string(rec.Strategy), rec.RiskScore,
		string(rec.Status), rec.StageIndex,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO deployment_events (deployment_id, status, stage_index, created_at)
		 VALUES (?, ?, ?, ?)`,
		rec.ID, string(rec.Status), rec.StageIndex, rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	return tx.Commit()
}

// SetMessage stores the final human-readable result message.
func (s *Store) SetMessage(deploymentID, message string) error {
	_, err := s.db.Exec(
		`UPDATE deployments SET message = ? WHERE deployment_id = ?`, message, deploymentID,
	)
	if err != nil {
		return fmt.Errorf("set message: %w", err)
	}
	return nil
}

// #endregion record

// #region queries

// Get retrieves one deployment by id.
func (s *Store) Get(deploymentID string) (DeploymentRow, error) {
	row := s.db.QueryRow(
		`SELECT deployment_id, agent_id, commit_id, strategy, risk_score, status, stage_index, message, created_at, updated_at
		 FROM deployments WHERE deployment_id = ?`, deploymentID,
	)
	return scanDeployment(row)
}

// List returns the most recent deployments.
func (s *Store) List(limit int) ([]DeploymentRow, error) {
	rows, err := s.db.Query(
		`SELECT deployment_id, agent_id, commit_id, strategy, risk_score, status, stage_index, message, created_at, updated_at
		 FROM deployments ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []DeploymentRow
	for rows.Next() {
		rec, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns the transition log for one deployment, oldest first.
func (s *Store) Events(deploymentID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT deployment_id, status, stage_index, COALESCE(detail, ''), created_at
		 FROM deployment_events WHERE deployment_id = ? ORDER BY id ASC`, deploymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var status, createdStr string
		if err := rows.Scan(&ev.DeploymentID, &status, &ev.StageIndex, &ev.Detail, &createdStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Status = rollout.Status(status)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (DeploymentRow, error) {
	var rec DeploymentRow
	var strategy, status, createdStr, updatedStr string
	var message sql.NullString

	err := row.Scan(&rec.ID, &rec.AgentID, &rec.CommitID, &strategy, &rec.RiskScore,
		&status, &rec.StageIndex, &message, &createdStr, &updatedStr)
	if err != nil {
		return DeploymentRow{}, fmt.Errorf("scan deployment: %w", err)
	}
	rec.Strategy = rollout.Strategy(strategy)
	rec.Status = rollout.Status(status)
	if message.Valid {
		rec.Message = message.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return rec, nil
}

// #endregion queries

// #region active-release

// Promote marks a completed deployment as the serving release. The pointer
// update is atomic with the existence check.
func (s *Store) Promote(deploymentID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(
		`SELECT status FROM deployments WHERE deployment_id = ?`, deploymentID,
	).Scan(&status)
	if err != nil {
		return fmt.Errorf("check deployment: %w", err)
	}
	if rollout.Status(status) != rollout.StatusCompleted {
		return fmt.Errorf("deployment %s is %s, only completed deployments can be promoted", deploymentID, status)
	}

	_, err = tx.Exec(
		`INSERT INTO active_release (id, deployment_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET deployment_id = excluded.deployment_id`,
		deploymentID,
	)
	if err != nil {
		return fmt.Errorf("set active release: %w", err)
	}
	return tx.Commit()
}

// ActiveRelease returns the deployment currently serving traffic.
func (s *Store) ActiveRelease() (DeploymentRow, error) {
	var id string
	err := s.db.QueryRow(`SELECT deployment_id FROM active_release WHERE id = 1`).Scan(&id)
	if err != nil {
		return DeploymentRow{}, fmt.Errorf("get active release: %w", err)
	}
	return s.Get(id)
}

// RevertTo points the active release back at a previous deployment.
func (s *Store) RevertTo(deploymentID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM deployments WHERE deployment_id = ?`, deploymentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check deployment: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("deployment %s not found", deploymentID)
	}

	_, err = s.db.Exec(`UPDATE active_release SET deployment_id = ? WHERE id = 1`, deploymentID)
	if err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	return nil
}

// #endregion active-release
