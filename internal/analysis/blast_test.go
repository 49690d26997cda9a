package analysis

import (
	"strings"
	"testing"
)

func TestEstimate_BaseLevels(t *testing.T) {
	cases := []struct {
		typ  FailureType
		want Level
	}{
		{FailureBuild, LevelHigh},
		{FailureDeploy, LevelHigh},
		{FailureAuth, LevelHigh},
		{FailureTest, LevelMedium},
		{FailureEnv, LevelMedium},
		{FailureNetwork, LevelMedium},
		{FailureTimeout, LevelMedium},
		{FailureUnknown, LevelMedium},
		{FailureLint, LevelLow},
	}
	e := NewEstimator()
	for _, tc := range cases {
		r := e.Estimate(FailureEvent{Type: tc.typ, Step: "unknown"}, nil)
		if r.Level != tc.want {
			t.Errorf("type %s: level = %s, want %s", tc.typ, r.Level, tc.want)
		}
	}
}

func TestEstimate_StepEscalation(t *testing.T) {
	e := NewEstimator()
	r := e.Estimate(FailureEvent{Type: FailureLint, Step: "Deploy to production"}, nil)
	if r.Level != LevelMedium {
		t.Errorf("lint in deploy step: level = %s, want medium", r.Level)
	}
	if len(r.RiskFactors) == 0 {
		t.Error("step escalation recorded no risk factor")
	}
}

func TestEstimate_BoundedAtHigh(t *testing.T) {
	e := NewEstimator()
	r := e.Estimate(
		FailureEvent{Type: FailureAuth, Step: "publish release"},
		&WorkflowMeta{CriticalPath: true},
	)
	if r.Level != LevelHigh {
		t.Errorf("level = %s, want high", r.Level)
	}
}

func TestEstimate_TypeTags(t *testing.T) {
	e := NewEstimator()
	auth := e.Estimate(FailureEvent{Type: FailureAuth, Step: "unknown"}, nil)
	if !containsString(auth.AffectedAreas, "authentication-layer") {
		t.Errorf("auth areas = %v", auth.AffectedAreas)
	}
	build := e.Estimate(FailureEvent{Type: FailureBuild, Step: "unknown"}, nil)
	if !containsString(build.AffectedAreas, "build-pipeline") {
		t.Errorf("build areas = %v", build.AffectedAreas)
	}
}

func TestEstimate_DeployPinnedHigh(t *testing.T) {
	r := NewEstimator().Estimate(FailureEvent{Type: FailureDeploy, Step: "unknown"}, nil)
	if r.Level != LevelHigh {
		t.Errorf("deploy level = %s, want high", r.Level)
	}
}

func TestEstimate_WorkflowMeta(t *testing.T) {
	meta := &WorkflowMeta{
		MatrixSize:    4,
		DependentJobs: []string{"deploy", "notify"},
		CriticalPath:  false,
	}
	r := NewEstimator().Estimate(FailureEvent{Type: FailureTest, Step: "unknown"}, meta)
	if len(r.Dependents) != 2 {
		t.Errorf("dependents = %v", r.Dependents)
	}
	foundMatrix := false
	for _, a := range r.AffectedAreas {
		if strings.Contains(a, "matrix") {
			foundMatrix = true
		}
	}
	if !foundMatrix {
		t.Errorf("matrix area missing: %v", r.AffectedAreas)
	}
	if r.Reasoning == "" {
		t.Error("reasoning empty")
	}
}

const sampleWorkflow = `name: CI
on: [push]
jobs:
  test:
    runs-on: ubuntu-latest
    strategy:
      matrix:
        node: [12, 14, 16, 18]
    steps:
      - uses: actions/checkout@v4
      - run: npm test
  deploy:
    needs: test
    runs-on: ubuntu-latest
    steps:
      - run: ./deploy.sh
`

func TestMetaFromWorkflow(t *testing.T) {
	meta, err := MetaFromWorkflow(sampleWorkflow)
	if err != nil {
		t.Fatalf("MetaFromWorkflow failed: %v", err)
	}
	if meta.MatrixSize != 4 {
		t.Errorf("MatrixSize = %d, want 4", meta.MatrixSize)
	}
	if len(meta.DependentJobs) != 1 || meta.DependentJobs[0] != "deploy" {
		t.Errorf("DependentJobs = %v", meta.DependentJobs)
	}
	if !meta.CriticalPath {
		t.Error("deploy job should set CriticalPath")
	}
}

func TestMetaFromWorkflow_NeedsList(t *testing.T) {
	meta, err := MetaFromWorkflow(`jobs:
  fanout:
    needs: [a, b]
    runs-on: ubuntu-latest
`)
	if err != nil {
		t.Fatalf("MetaFromWorkflow failed: %v", err)
	}
	if len(meta.DependentJobs) != 1 || meta.DependentJobs[0] != "fanout" {
		t.Errorf("DependentJobs = %v", meta.DependentJobs)
	}
}

func TestMetaFromWorkflow_Invalid(t *testing.T) {
	if _, err := MetaFromWorkflow("jobs: [not: a: mapping"); err == nil {
		t.Fatal("expected parse error")
	}
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
