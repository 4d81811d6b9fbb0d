package agent

import (
	"reflect"
	"testing"
)

func TestTasksShallowUsesSmallSubset(t *testing.T) {
	m := EvaluationMethod{
		Kind:   MethodBenchmark,
		Small:  []string{"s1", "s2"},
		Medium: []string{"m1"},
	}
	got := m.Tasks(true)
	if !reflect.DeepEqual(got, []string{"s1", "s2"}) {
		t.Fatalf("shallow tasks: got %v", got)
	}
}

func TestTasksBenchmarkFullUnionsSmallAndMedium(t *testing.T) {
	m := EvaluationMethod{
		Kind:   MethodBenchmark,
		Small:  []string{"s1"},
		Medium: []string{"m1", "m2"},
	}
	got := m.Tasks(false)
	if !reflect.DeepEqual(got, []string{"s1", "m1", "m2"}) {
		t.Fatalf("full benchmark tasks: got %v", got)
	}
}

func TestTasksPolyglotFullFlattensLanguages(t *testing.T) {
	m := EvaluationMethod{
		Kind:  MethodPolyglot,
		Small: []string{"s1"},
		Languages: map[string][]string{
			"rust": {"r1", "r2"},
			"go":   {"g1"},
		},
	}
	// Languages flatten in sorted order, so runs are reproducible; the
	// small subset is for shallow runs only.
	got := m.Tasks(false)
	if !reflect.DeepEqual(got, []string{"g1", "r1", "r2"}) {
		t.Fatalf("full polyglot tasks: got %v", got)
	}
}

func TestTasksReturnsCopy(t *testing.T) {
	m := EvaluationMethod{Kind: MethodBenchmark, Small: []string{"s1"}}
	got := m.Tasks(true)
	got[0] = "mutated"
	if m.Small[0] != "s1" {
		t.Fatal("Tasks must not alias the method's task lists")
	}
}
