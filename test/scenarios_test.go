package test

import (
	"context"
	"testing"
)

func TestBuiltInScenariosPass(t *testing.T) {
	suite, err := NewScenarioSuite(nil, 42)
	if err != nil {
		t.Fatalf("NewScenarioSuite: %v", err)
	}
	results := suite.RunAll(context.Background())
	if len(results) != len(Scenarios()) {
		t.Fatalf("expected %d results, got %d", len(Scenarios()), len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s: expected %q, got %q (%s)", r.ScenarioName, r.Expected, r.Actual, r.Reason)
		}
	}
}

func TestFailingScenarioIsReported(t *testing.T) {
	suite, err := NewScenarioSuite(nil, 1)
	if err != nil {
		t.Fatalf("NewScenarioSuite: %v", err)
	}
	r := suite.RunScenario(Scenario{
		Name:     "wrong expectation",
		Capacity: 1,
		Expected: "slots=2",
		Run: func(h *harness) (string, error) {
			h.collect("kelp", 1)
			return "slots=1", nil
		},
	})
	if r.Passed || r.Reason == "" {
		t.Errorf("expected a failed verdict, got %+v", r)
	}
	if len(suite.GetResults()) != 1 {
		t.Errorf("expected the verdict to be recorded")
	}
}
