package analysis

import (
	"strings"
	"testing"
)

const npmForbiddenLog = `##[group]Run npm publish
npm notice package: pkg@1.2.3
npm ERR! code E403
npm ERR! 403 403 Forbidden - PUT https://registry.npmjs.org/pkg
npm ERR! 403 In most cases, you or one of your dependencies are requesting
##[endgroup]`

func TestClassify_RegistryForbidden(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())
	matches := e.Classify(npmForbiddenLog)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
	first := matches[0]
	if first.Event.Type != FailureAuth {
		t.Errorf("type = %s, want auth", first.Event.Type)
	}
	if first.RuleID != "registry-auth-403" {
		t.Errorf("rule = %s", first.RuleID)
	}
	if first.Event.LineNumber != 3 {
		t.Errorf("line = %d, want 3", first.Event.LineNumber)
	}
	if first.Event.Step != "npm publish" {
		t.Errorf("step = %q, want %q", first.Event.Step, "npm publish")
	}
	if first.Event.Context["code"] != "E403" {
		t.Errorf("context = %v", first.Event.Context)
	}
}

func TestClassify_OrderedByAppearance(t *testing.T) {
	log := "ECONNREFUSED dialing cache\nsome noise\n3 tests failed"
	matches := NewEngine(DefaultEngineConfig()).Classify(log)
	if len(matches) != 2 {
		t.Fatalf("got %d matches: %+v", len(matches), matches)
	}
	if matches[0].Event.LineNumber >= matches[1].Event.LineNumber {
		t.Error("matches out of appearance order")
	}
	if matches[0].Event.Type != FailureNetwork || matches[1].Event.Type != FailureTest {
		t.Errorf("types = %s, %s", matches[0].Event.Type, matches[1].Event.Type)
	}
}

// A line matching several rules must be claimed by the first one in
// catalogue order.
func TestClassify_FirstRuleWins(t *testing.T) {
	// "authentication failed" also contains the generic "failed" keyword.
	matches := NewEngine(DefaultEngineConfig()).Classify("remote: authentication failed for user")
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].RuleID != "forge-auth-failed" {
		t.Errorf("rule = %s, want forge-auth-failed", matches[0].RuleID)
	}
	if matches[0].Fallback {
		t.Error("specific rule reported as fallback")
	}
}

func TestClassify_FallbackRule(t *testing.T) {
	matches := NewEngine(DefaultEngineConfig()).Classify("step exited with a fatal condition")
	if len(matches) != 1 {
		t.Fatalf("got %d matches", len(matches))
	}
	if !matches[0].Fallback {
		t.Error("generic keyword line not tagged as fallback")
	}
	if matches[0].Event.Type != FailureUnknown {
		t.Errorf("type = %s, want unknown", matches[0].Event.Type)
	}
	if matches[0].Modifier != 0.5 {
		t.Errorf("modifier = %v, want 0.5", matches[0].Modifier)
	}
}

func TestClassify_NoMatchReturnsEmpty(t *testing.T) {
	matches := NewEngine(DefaultEngineConfig()).Classify("all green\neverything passed\ndone")
	if len(matches) != 0 {
		t.Errorf("clean log produced %d matches", len(matches))
	}
}

func TestClassify_MaxEventsBound(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("build error on item\n")
	}
	matches := NewEngine(EngineConfig{MaxEvents: 5}).Classify(b.String())
	if len(matches) != 5 {
		t.Errorf("got %d matches, want capped 5", len(matches))
	}
}

func TestResolveStep_Shapes(t *testing.T) {
	cases := []struct {
		name     string
		preamble string
		want     string
	}{
		{"group run", "##[group]Run make release", "make release"},
		{"item tag", "##[section]Upload artifacts", "Upload artifacts"},
		{"bracket line", "[integration-tests]", "integration-tests"},
		{"colon line", "Deploy to staging:", "Deploy to staging"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			log := tc.preamble + "\nsetup output\nfatal: something broke"
			matches := NewEngine(DefaultEngineConfig()).Classify(log)
			if len(matches) == 0 {
				t.Fatal("no match")
			}
			if got := matches[0].Event.Step; got != tc.want {
				t.Errorf("step = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveStep_Unknown(t *testing.T) {
	matches := NewEngine(DefaultEngineConfig()).Classify("plain output\nfatal: no step markers anywhere")
	if len(matches) == 0 {
		t.Fatal("no match")
	}
	if matches[0].Event.Step != "unknown" {
		t.Errorf("step = %q, want unknown", matches[0].Event.Step)
	}
}

// Log-level tags share the ##[...] shape but are not step names.
func TestResolveStep_SkipsLogLevelTags(t *testing.T) {
	log := "##[group]Run npm test\noutput\n##[warning]flaky network\n2 tests failed"
	matches := NewEngine(DefaultEngineConfig()).Classify(log)
	if len(matches) == 0 {
		t.Fatal("no match")
	}
	if matches[0].Event.Step != "npm test" {
		t.Errorf("step = %q, want %q", matches[0].Event.Step, "npm test")
	}
}

func TestCaptureStackTrace(t *testing.T) {
	log := `##[group]Run node index.js
Error: Cannot find module 'left-pad'
    at Function.Module._resolveFilename (node:internal/modules/cjs/loader:1075:15)
    at Module._load (node:internal/modules/cjs/loader:920:27)
##[endgroup]`
	matches := NewEngine(DefaultEngineConfig()).Classify(log)
	if len(matches) == 0 {
		t.Fatal("no match")
	}
	ev := matches[0].Event
	if ev.Context["module"] != "left-pad" {
		t.Errorf("context = %v", ev.Context)
	}
	if ev.StackTrace == "" {
		t.Fatal("stack trace not attached")
	}
	if !strings.Contains(ev.StackTrace, "_resolveFilename") {
		t.Errorf("trace content wrong: %q", ev.StackTrace)
	}
}

func TestCaptureStackTrace_SingleLineNotEnough(t *testing.T) {
	matches := NewEngine(DefaultEngineConfig()).Classify("Error: lone failure line with nothing around it")
	if len(matches) == 0 {
		t.Fatal("no match")
	}
	if matches[0].Event.StackTrace != "" {
		t.Errorf("single keyword line produced a trace: %q", matches[0].Event.StackTrace)
	}
}
