package agent

// #region imports
import (
	"sort"
	"time"
)

// #endregion

// #region agent

// ID uniquely identifies a candidate agent variant.
type ID string

// Agent is a candidate variant under evaluation. CommitID points at the
// buildable artifact produced by the variation step; Fitness is attached
// after evaluation and nil until then.
type Agent struct {
	ID       ID            `json:"id"`
	CommitID string        `json:"commit_id"`
	Fitness  *FitnessScore `json:"fitness,omitempty"`
}

// #endregion

// #region fitness-score

// FitnessScore summarizes one evaluation run for one agent. Immutable once
// computed. Accuracy is always in [0,1].
type FitnessScore struct {
	Accuracy              float64       `json:"accuracy"`
	ResolvedCount         int           `json:"resolved_count"`
	UnresolvedCount       int           `json:"unresolved_count"`
	EmptyPatchCount       int           `json:"empty_patch_count"`
	ContextLengthExceeded bool          `json:"context_length_exceeded"`
	CompilationSuccess    bool          `json:"compilation_success"`
	TestsPassed           int           `json:"tests_passed"`
	TotalTests            int           `json:"total_tests"`
	ExecutionTime         time.Duration `json:"execution_time"`
	MemoryUsageMB         float64       `json:"memory_usage_mb"`
	Shallow               bool          `json:"shallow"` // true when scored against the small task subset only
}

// #endregion

// #region task-result

// TaskResult is the raw per-task outcome reported by a remote evaluation
// worker. Error is empty on success.
type TaskResult struct {
	TaskID      string `json:"task_id"`
	Resolved    bool   `json:"resolved"`
	EmptyPatch  bool   `json:"empty_patch"`
	TestsPassed int    `json:"tests_passed"`
	TotalTests  int    `json:"total_tests"`
	Error       string `json:"error,omitempty"`
}

// #endregion

// #region evaluation-method

// MethodKind distinguishes the two task-list layouts.
type MethodKind string

const (
	// MethodBenchmark carries small/medium task lists (swe-bench style).
	MethodBenchmark MethodKind = "benchmark"
	// MethodPolyglot carries per-language task suites.
	MethodPolyglot MethodKind = "polyglot"
)

// EvaluationMethod describes a benchmark and its task lists. Supplied by
// configuration; this core only selects subsets from it.
type EvaluationMethod struct {
	Name      string              `json:"name"`
	Kind      MethodKind          `json:"kind"`
	Small     []string            `json:"small"`               // cheap triage subset, both kinds
	Medium    []string            `json:"medium,omitempty"`    // benchmark kind: unioned with Small for full runs
	Languages map[string][]string `json:"languages,omitempty"` // polyglot kind: flattened for full runs
}

// Tasks selects the task list for a run. Shallow runs use only the small
// subset; full runs union small+medium for the benchmark kind and flatten
// every per-language suite for the polyglot kind.
func (m EvaluationMethod) Tasks(shallow bool) []string {
	if shallow {
		return append([]string(nil), m.Small...)
	}
	switch m.Kind {
	case MethodPolyglot:
		langs := make([]string, 0, len(m.Languages))
		for lang := range m.Languages {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		var tasks []string
		for _, lang := range langs {
			tasks = append(tasks, m.Languages[lang]...)
		}
		return tasks
	default:
		tasks := append([]string(nil), m.Small...)
		return append(tasks, m.Medium...)
	}
}

// #endregion
