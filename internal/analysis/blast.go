package analysis

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// TYPES
// =============================================================================

// Level grades the estimated impact scope.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func levelRank(l Level) int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// Radius describes the estimated scope of a failure's downstream effect.
type Radius struct {
	Level         Level    `json:"level"`
	AffectedAreas []string `json:"affectedAreas"`
	Dependents    []string `json:"dependents"`
	RiskFactors   []string `json:"riskFactors"`
	Reasoning     string   `json:"reasoning"`
}

// WorkflowMeta is optional caller-supplied workflow context.
type WorkflowMeta struct {
	MatrixSize    int
	DependentJobs []string
	CriticalPath  bool
}

// =============================================================================
// WORKFLOW METADATA EXTRACTION
// =============================================================================

type workflowDoc struct {
	Name string                 `yaml:"name"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowJob struct {
	Needs    needsList    `yaml:"needs"`
	Strategy *jobStrategy `yaml:"strategy"`
}

type jobStrategy struct {
	Matrix map[string]interface{} `yaml:"matrix"`
}

// needsList accepts both the scalar and the sequence form of "needs".
type needsList []string

func (n *needsList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*n = []string{s}
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*n = ss
	}
	return nil
}

var criticalJobNames = []string{"deploy", "release", "publish", "production"}

// MetaFromWorkflow extracts blast-radius inputs from a workflow document:
// total matrix parallelism, jobs that depend on other jobs, and whether any
// job name suggests a release path.
func MetaFromWorkflow(workflowYAML string) (*WorkflowMeta, error) {
	var doc workflowDoc
	if err := yaml.Unmarshal([]byte(workflowYAML), &doc); err != nil {
		return nil, fmt.Errorf("workflow does not parse: %w", err)
	}

	meta := &WorkflowMeta{}
	for name, job := range doc.Jobs {
		if job.Strategy != nil && job.Strategy.Matrix != nil {
			size := 1
			for key, val := range job.Strategy.Matrix {
				if key == "include" || key == "exclude" {
					continue
				}
				if list, ok := val.([]interface{}); ok && len(list) > 0 {
					size *= len(list)
				}
			}
			if size > meta.MatrixSize {
				meta.MatrixSize = size
			}
		}
		if len(job.Needs) > 0 {
			meta.DependentJobs = append(meta.DependentJobs, name)
		}
		for _, crit := range criticalJobNames {
			if strings.Contains(strings.ToLower(name), crit) {
				meta.CriticalPath = true
			}
		}
	}
	sort.Strings(meta.DependentJobs)
	return meta, nil
}

// =============================================================================
// ESTIMATOR
// =============================================================================

// Estimator maps a failure event to its impact scope. Escalation is monotone
// and bounded at high.
type Estimator struct{}

// NewEstimator creates an Estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

var criticalStepKeywords = []string{
	"setup", "build", "compile", "deploy", "publish", "release", "authenticate", "login",
}

func baseLevel(t FailureType) Level {
	switch t {
	case FailureBuild, FailureDeploy, FailureAuth:
		return LevelHigh
	case FailureLint:
		return LevelLow
	default:
		return LevelMedium
	}
}

func typeArea(t FailureType) string {
	switch t {
	case FailureAuth:
		return "authentication-layer"
	case FailureBuild:
		return "build-pipeline"
	case FailureDeploy:
		return "deployment"
	case FailureTest:
		return "test-suite"
	case FailureLint:
		return "code-style"
	case FailureEnv:
		return "environment"
	case FailureNetwork:
		return "networking"
	case FailureTimeout:
		return "job-scheduling"
	default:
		return "unclassified"
	}
}

// Estimate computes the blast radius for one event with optional workflow
// metadata.
func (e *Estimator) Estimate(event FailureEvent, meta *WorkflowMeta) Radius {
	level := baseLevel(event.Type)
	areas := []string{typeArea(event.Type)}
	var dependents []string
	var risks []string
	var notes []string

	notes = append(notes, fmt.Sprintf("%s failures start at %s impact", event.Type, level))

	step := strings.ToLower(event.Step)
	for _, kw := range criticalStepKeywords {
		if strings.Contains(step, kw) {
			level = escalate(level)
			risks = append(risks, fmt.Sprintf("failure inside critical step %q", event.Step))
			notes = append(notes, fmt.Sprintf("step name contains %q, escalating to %s", kw, level))
			break
		}
	}

	if meta != nil {
		if meta.MatrixSize > 1 {
			areas = append(areas, fmt.Sprintf("matrix-variants (%d)", meta.MatrixSize))
			risks = append(risks, fmt.Sprintf("failure repeats across %d matrix variants", meta.MatrixSize))
		}
		if len(meta.DependentJobs) > 0 {
			dependents = append(dependents, meta.DependentJobs...)
			risks = append(risks, fmt.Sprintf("%d downstream jobs blocked", len(meta.DependentJobs)))
		}
		if meta.CriticalPath {
			level = escalate(level)
			risks = append(risks, "workflow is on a declared critical path")
			notes = append(notes, fmt.Sprintf("critical path flag escalates to %s", level))
		}
	}

	if event.Type == FailureDeploy {
		level = LevelHigh
		notes = append(notes, "deploy failures pin impact at high")
	}

	return Radius{
		Level:         level,
		AffectedAreas: areas,
		Dependents:    dependents,
		RiskFactors:   risks,
		Reasoning:     strings.Join(notes, "; ") + ".",
	}
}

func escalate(l Level) Level {
	switch l {
	case LevelLow:
		return LevelMedium
	default:
		return LevelHigh
	}
}
