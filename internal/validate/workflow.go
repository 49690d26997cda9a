package validate

import (
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// checkYAML validates YAML shape and, for workflow files, the workflow
// schema. Keys are inspected through yaml.Node so that bare `on:` keeps its
// literal spelling instead of resolving to a boolean.
func (v *Validator) checkYAML(result *FileResult, filename, content string) {
	checkYAMLText(result, content)

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		result.errorf("invalid YAML: %v", err)
		return
	}
	if !isWorkflowPath(filename) {
		return
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		result.errorf("workflow must be a top-level mapping")
		return
	}
	checkWorkflowSchema(result, doc.Content[0])
}

// isWorkflowPath reports whether the file lives under a workflows directory.
func isWorkflowPath(filename string) bool {
	return strings.Contains(filepath.ToSlash(strings.ToLower(filename)), ".github/workflows/")
}

// checkYAMLText runs the textual checks: tab indentation, 2-space indent
// multiples, and per-line quote matching.
func checkYAMLText(result *FileResult, content string) {
	for i, line := range strings.Split(content, "\n") {
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if strings.Contains(indent, "\t") {
			result.errorf("tab indentation at line %d", i+1)
			result.fix("replace tabs with spaces")
			continue
		}
		if len(indent)%2 != 0 {
			result.warnf("indentation not a multiple of 2 at line %d", i+1)
			result.fix("indent with 2 spaces per level")
		}
		if unmatchedQuote(line) {
			result.errorf("unmatched quote at line %d", i+1)
		}
	}
}

// unmatchedQuote reports a quoted scalar that never closes. Plain scalars
// containing apostrophes are not quoted scalars and never flag.
func unmatchedQuote(line string) bool {
	value := strings.TrimSpace(line)
	value = strings.TrimPrefix(value, "- ")
	if idx := strings.Index(value, ": "); idx >= 0 {
		value = strings.TrimSpace(value[idx+2:])
	} else if strings.HasSuffix(value, ":") {
		return false
	}
	if value == "" {
		return false
	}
	quote := value[0]
	if quote != '"' && quote != '\'' {
		return false
	}
	for i := 1; i < len(value); i++ {
		switch {
		case value[i] == '\\' && quote == '"':
			i++
		case value[i] == quote:
			if quote == '\'' && i+1 < len(value) && value[i+1] == '\'' {
				i++ // doubled single quote is an escape
				continue
			}
			return false
		}
	}
	return true
}

// checkWorkflowSchema verifies the workflow skeleton: name, trigger, and a
// jobs mapping where every job declares a runner and at least one step, and
// every step carries an action reference or a run command.
func checkWorkflowSchema(result *FileResult, root *yaml.Node) {
	if mappingValue(root, "name") == nil {
		result.errorf("workflow missing top-level name")
		result.fix("add a name field describing the workflow")
	}
	if mappingValue(root, "on") == nil {
		result.errorf("workflow missing trigger clause")
		result.fix("add an on section (for example on: [push, pull_request])")
	}

	jobs := mappingValue(root, "jobs")
	if jobs == nil || jobs.Kind != yaml.MappingNode || len(jobs.Content) == 0 {
		result.errorf("workflow missing jobs mapping")
		result.fix("define at least one job under jobs")
		return
	}

	for i := 0; i+1 < len(jobs.Content); i += 2 {
		jobName := jobs.Content[i].Value
		job := jobs.Content[i+1]
		if job.Kind != yaml.MappingNode {
			result.errorf("job %q is not a mapping", jobName)
			continue
		}
		if mappingValue(job, "runs-on") == nil && mappingValue(job, "uses") == nil {
			result.errorf("job %q missing runs-on", jobName)
			result.fix("add runs-on: ubuntu-latest to job " + jobName)
		}
		if mappingValue(job, "uses") != nil {
			// Reusable-workflow jobs carry no steps of their own.
			continue
		}

		steps := mappingValue(job, "steps")
		if steps == nil || steps.Kind != yaml.SequenceNode || len(steps.Content) == 0 {
			result.errorf("job %q has no steps", jobName)
			result.fix("add at least one step to job " + jobName)
			continue
		}
		for s, step := range steps.Content {
			if step.Kind != yaml.MappingNode {
				result.errorf("job %q step %d is not a mapping", jobName, s+1)
				continue
			}
			if mappingValue(step, "uses") == nil && mappingValue(step, "run") == nil {
				result.errorf("job %q step %d has neither uses nor run", jobName, s+1)
				result.fix("give the step an action reference (uses) or a shell command (run)")
			}
		}
	}
}

// mappingValue returns the value node for a literal key, or nil.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
