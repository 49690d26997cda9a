package analysis

import "regexp"

// Rule is one entry of the classification catalogue. Catalogue order is the
// documented contract: the first rule matching a line wins for that line, so
// rules are ordered most specific to generic and the keyword fallback sits
// last. Re-ordering is a behavioural change.
type Rule struct {
	ID                 string
	Name               string
	Pattern            *regexp.Regexp
	Type               FailureType
	Severity           Severity
	ConfidenceModifier float64
	// ExtractContext pulls structured key/value pairs out of the matched
	// line. Submatches are the regexp capture groups.
	ExtractContext func(line string, submatches []string) map[string]string
}

// Fallback reports whether this is the generic keyword rule.
func (r *Rule) Fallback() bool {
	return r.ID == ruleGenericError
}

const ruleGenericError = "generic-error"

// DefaultCatalogue returns the built-in rule set.
func DefaultCatalogue() []*Rule {
	return []*Rule{
		{
			ID:                 "registry-auth-403",
			Name:               "Package registry publish forbidden",
			Pattern:            regexp.MustCompile(`npm ERR!\s+code (E403|E401)|403 Forbidden - PUT|401 Unauthorized - PUT`),
			Type:               FailureAuth,
			Severity:           SeverityError,
			ConfidenceModifier: 0.92,
			ExtractContext: func(line string, sub []string) map[string]string {
				ctx := map[string]string{"registry": "npm"}
				if len(sub) > 1 && sub[1] != "" {
					ctx["code"] = sub[1]
				}
				return ctx
			},
		},
		{
			ID:                 "container-registry-denied",
			Name:               "Container registry push denied",
			Pattern:            regexp.MustCompile(`denied: denied|unauthorized: authentication required|denied: permission_denied`),
			Type:               FailureAuth,
			Severity:           SeverityError,
			ConfidenceModifier: 0.90,
			ExtractContext: func(string, []string) map[string]string {
				return map[string]string{"registry": "container"}
			},
		},
		{
			ID:                 "forge-auth-failed",
			Name:               "Remote authentication failure",
			Pattern:            regexp.MustCompile(`(?i)authentication failed|permission denied \(publickey\)|bad credentials|could not read Username`),
			Type:               FailureAuth,
			Severity:           SeverityError,
			ConfidenceModifier: 0.88,
		},
		{
			ID:                 "secret-undefined",
			Name:               "Referenced secret is not defined",
			Pattern:            regexp.MustCompile(`(?i)secret '([^']+)' is not defined|secret "([^"]+)" (?:is )?not (?:defined|found)`),
			Type:               FailureEnv,
			Severity:           SeverityError,
			ConfidenceModifier: 0.90,
			ExtractContext: func(line string, sub []string) map[string]string {
				name := firstNonEmpty(sub[1:])
				if name == "" {
					return nil
				}
				return map[string]string{"secret": name}
			},
		},
		{
			ID:                 "env-var-missing",
			Name:               "Environment variable missing",
			Pattern:            regexp.MustCompile(`(?i)(?:environment variable|env var)\s+'?([A-Z0-9_]+)'?\s+(?:is )?(?:not set|missing|undefined)`),
			Type:               FailureEnv,
			Severity:           SeverityError,
			ConfidenceModifier: 0.85,
			ExtractContext: func(line string, sub []string) map[string]string {
				if len(sub) > 1 && sub[1] != "" {
					return map[string]string{"variable": sub[1]}
				}
				return nil
			},
		},
		{
			ID:                 "runtime-unsupported",
			Name:               "Runtime feature unavailable in pinned version",
			Pattern:            regexp.MustCompile(`(?i)crypto\.subtle is not available in Node (\d+)|not supported (?:in|on) Node(?:\.js)? v?(\d+)|requires Node(?:\.js)? v?(\d+)`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.85,
			ExtractContext: func(line string, sub []string) map[string]string {
				ctx := map[string]string{"runtime": "node"}
				if v := firstNonEmpty(sub[1:]); v != "" {
					ctx["version"] = v
				}
				return ctx
			},
		},
		{
			ID:                 "module-not-found",
			Name:               "Dependency cannot be resolved",
			Pattern:            regexp.MustCompile(`Cannot find module '([^']+)'|ModuleNotFoundError: No module named '([^']+)'|package ([^\s:]+) is not in`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.88,
			ExtractContext: func(line string, sub []string) map[string]string {
				if m := firstNonEmpty(sub[1:]); m != "" {
					return map[string]string{"module": m}
				}
				return nil
			},
		},
		{
			ID:                 "typescript-error",
			Name:               "TypeScript compiler error",
			Pattern:            regexp.MustCompile(`error TS(\d+):`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.86,
			ExtractContext: func(line string, sub []string) map[string]string {
				return map[string]string{"code": "TS" + sub[1]}
			},
		},
		{
			ID:                 "compile-error",
			Name:               "Compilation failure",
			Pattern:            regexp.MustCompile(`(?i)compilation (?:failed|error)|syntax ?error|undefined reference to`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.82,
		},
		{
			ID:                 "docker-build-failed",
			Name:               "Container image build failure",
			Pattern:            regexp.MustCompile(`(?i)docker build failed|failed to solve|ERROR: failed to build|buildx (?:call )?failed`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.84,
		},
		{
			ID:                 "test-failure",
			Name:               "Test suite failure",
			Pattern:            regexp.MustCompile(`(?i)(\d+) (?:tests? |specs? )?fail(?:ed|ing)|Tests:\s+\d+ failed|AssertionError|FAIL(?:ED)?:? .*(?:_test|\.test\.|spec)`),
			Type:               FailureTest,
			Severity:           SeverityError,
			ConfidenceModifier: 0.85,
			ExtractContext: func(line string, sub []string) map[string]string {
				if len(sub) > 1 && sub[1] != "" {
					return map[string]string{"failedCount": sub[1]}
				}
				return nil
			},
		},
		{
			ID:                 "lint-error",
			Name:               "Lint or format violation",
			Pattern:            regexp.MustCompile(`(?i)\b(?:eslint|prettier|flake8|pylint|golangci-lint|rubocop)\b.*(?:error|warning|problem)|lint(?:ing)? failed`),
			Type:               FailureLint,
			Severity:           SeverityWarning,
			ConfidenceModifier: 0.80,
		},
		{
			ID:                 "deploy-failed",
			Name:               "Deployment failure",
			Pattern:            regexp.MustCompile(`(?i)deploy(?:ment)? failed|release failed|rollout (?:failed|aborted)|helm upgrade failed`),
			Type:               FailureDeploy,
			Severity:           SeverityCritical,
			ConfidenceModifier: 0.84,
		},
		{
			ID:                 "job-timeout",
			Name:               "Job or step timed out",
			Pattern:            regexp.MustCompile(`(?i)timed? ?out (?:after|waiting)|timeout exceeded|exceeded the maximum execution time|The operation was canceled`),
			Type:               FailureTimeout,
			Severity:           SeverityError,
			ConfidenceModifier: 0.82,
		},
		{
			ID:                 "network-error",
			Name:               "Network transport failure",
			Pattern:            regexp.MustCompile(`(?i)ECONNREFUSED|ETIMEDOUT|ENOTFOUND|EAI_AGAIN|connection (?:refused|reset|closed)|network (?:error|unreachable)|getaddrinfo`),
			Type:               FailureNetwork,
			Severity:           SeverityError,
			ConfidenceModifier: 0.78,
		},
		{
			ID:                 "out-of-memory",
			Name:               "Runner out of memory",
			Pattern:            regexp.MustCompile(`(?i)out of memory|OOMKilled|JavaScript heap out of memory|Cannot allocate memory`),
			Type:               FailureEnv,
			Severity:           SeverityCritical,
			ConfidenceModifier: 0.85,
			ExtractContext: func(string, []string) map[string]string {
				return map[string]string{"resource": "memory"}
			},
		},
		{
			ID:                 "nonzero-exit",
			Name:               "Process exited non-zero",
			Pattern:            regexp.MustCompile(`(?i)process completed with exit code ([1-9]\d*)|command exited with code ([1-9]\d*)`),
			Type:               FailureBuild,
			Severity:           SeverityError,
			ConfidenceModifier: 0.70,
			ExtractContext: func(line string, sub []string) map[string]string {
				if code := firstNonEmpty(sub[1:]); code != "" {
					return map[string]string{"exitCode": code}
				}
				return nil
			},
		},
		{
			ID:                 ruleGenericError,
			Name:               "Generic error keyword",
			Pattern:            regexp.MustCompile(`(?i)\b(?:error|failed|failure|fatal)\b`),
			Type:               FailureUnknown,
			Severity:           SeverityError,
			ConfidenceModifier: 0.50,
		},
	}
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
