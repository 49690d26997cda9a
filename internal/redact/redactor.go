// Package redact scrubs secrets from CI logs before any byte leaves the
// host. An ordered catalogue of recognisers replaces matches with
// [REDACTED_<CATEGORY>] placeholders and reports per-category statistics.
package redact

import (
	"regexp"
	"strings"

	"forgefix/internal/faults"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls redaction behaviour.
type Config struct {
	// Aggressive enables the broad-net recognisers (long hex, base64 blobs,
	// IP addresses) on top of the standard catalogue.
	Aggressive bool
	// MaxLogBytes bounds the accepted input size. Zero means the default.
	MaxLogBytes int
	// PreviewLength is the truncation length for per-category hit previews.
	PreviewLength int
	// MaxPreviews caps how many samples are kept per category.
	MaxPreviews int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Aggressive:    false,
		MaxLogBytes:   10 * 1024 * 1024,
		PreviewLength: 20,
		MaxPreviews:   2,
	}
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// Category tags a class of secret.
type Category string

const (
	CategoryForgeToken    Category = "FORGE_TOKEN"
	CategoryCloudKeyID    Category = "CLOUD_KEY_ID"
	CategoryCloudSecret   Category = "CLOUD_SECRET_KEY"
	CategoryPrivateKey    Category = "PRIVATE_KEY"
	CategoryRegistryToken Category = "REGISTRY_TOKEN"
	CategoryDBConnection  Category = "DB_CONNECTION"
	CategoryBearerToken   Category = "BEARER_TOKEN"
	CategoryBasicAuthURL  Category = "BASIC_AUTH_URL"
	CategoryPassword      Category = "PASSWORD"
	CategoryAPIKey        Category = "API_KEY"
	CategoryGenericToken  Category = "TOKEN"
	CategoryGenericSecret Category = "SECRET"
	CategoryEmail         Category = "EMAIL"
	CategorySessionID     Category = "SESSION_ID"
	CategoryHexSecret     Category = "HEX_SECRET"
	CategoryBase64Blob    Category = "BASE64_BLOB"
	CategoryIPAddress     Category = "IP_ADDRESS"
)

// Severity ranks how damaging a leaked match of this category would be.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel is the roll-up over all hits in one log.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Stats summarises what was found and removed.
type Stats struct {
	SecretsFound int              `json:"secretsFound"`
	ByCategory   map[Category]int `json:"byCategory"`
	Risk         RiskLevel        `json:"risk"`
}

// PatternHit records the hits of one category in catalogue order.
type PatternHit struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Previews []string `json:"previews"`
}

// Log is the redacted output. The raw input is not retained.
type Log struct {
	Text        string       `json:"text"`
	Stats       Stats        `json:"stats"`
	PatternHits []PatternHit `json:"patternHits"`
}

// =============================================================================
// RECOGNISER CATALOGUE
// =============================================================================

type recogniser struct {
	category Category
	severity Severity
	pattern  *regexp.Regexp
}

// Catalogue order matters: structural recognisers (PEM blocks, connection
// strings) run before the generic assignment patterns so a match is tagged
// with its most specific category.
var catalogue = []recogniser{
	{CategoryPrivateKey, SeverityCritical,
		regexp.MustCompile(`(?s)-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----.*?-----END (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{CategoryForgeToken, SeverityCritical,
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,255}\b`)},
	{CategoryForgeToken, SeverityCritical,
		regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,255}\b`)},
	{CategoryCloudSecret, SeverityCritical,
		regexp.MustCompile(`(?i)\baws_secret_access_key\s*[=:]\s*["']?[A-Za-z0-9/+=]{20,}["']?`)},
	{CategoryCloudKeyID, SeverityHigh,
		regexp.MustCompile(`\b(?:AKIA|ASIA|AIDA|AROA)[0-9A-Z]{16}\b`)},
	{CategoryRegistryToken, SeverityHigh,
		regexp.MustCompile(`\bnpm_[A-Za-z0-9]{36}\b`)},
	{CategoryRegistryToken, SeverityHigh,
		regexp.MustCompile(`(?i)_authToken\s*=\s*\S+`)},
	{CategoryRegistryToken, SeverityHigh,
		regexp.MustCompile(`\bpypi-AgEIcHlwaS5vcmc[A-Za-z0-9_-]+`)},
	{CategoryDBConnection, SeverityHigh,
		regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?|mssql)://[^\s'"]+`)},
	{CategoryBearerToken, SeverityHigh,
		regexp.MustCompile(`(?i)\b(?:authorization\s*:\s*)?bearer\s+[A-Za-z0-9._~+/-]+=*`)},
	{CategoryBasicAuthURL, SeverityHigh,
		regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^/\s:@]+@`)},
	{CategoryPassword, SeverityHigh,
		regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[=:]\s*["']?[^\s"']+["']?`)},
	{CategoryAPIKey, SeverityMedium,
		regexp.MustCompile(`(?i)\bapi[_-]?key\s*[=:]\s*["']?[^\s"']+["']?`)},
	{CategoryGenericToken, SeverityMedium,
		regexp.MustCompile(`(?i)\btoken\s*[=:]\s*["']?[^\s"']+["']?`)},
	{CategoryGenericSecret, SeverityMedium,
		regexp.MustCompile(`(?i)\bsecret\s*[=:]\s*["']?[^\s"']+["']?`)},
	{CategorySessionID, SeverityMedium,
		regexp.MustCompile(`(?i)\b(?:session[_-]?id|jsessionid|phpsessid)\s*[=:]\s*[A-Za-z0-9_-]{8,}`)},
	{CategoryEmail, SeverityLow,
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// aggressiveCatalogue runs after the standard catalogue when enabled.
var aggressiveCatalogue = []recogniser{
	{CategoryHexSecret, SeverityMedium,
		regexp.MustCompile(`\b[0-9a-f]{32,}\b`)},
	{CategoryBase64Blob, SeverityMedium,
		regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`)},
	{CategoryIPAddress, SeverityLow,
		regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// =============================================================================
// REDACTOR
// =============================================================================

// Redactor applies the recogniser catalogue to raw log text.
type Redactor struct {
	config      Config
	recognisers []recogniser
}

// New creates a Redactor for the given configuration.
func New(config Config) *Redactor {
	if config.MaxLogBytes <= 0 {
		config.MaxLogBytes = DefaultConfig().MaxLogBytes
	}
	if config.PreviewLength <= 0 {
		config.PreviewLength = DefaultConfig().PreviewLength
	}
	if config.MaxPreviews <= 0 {
		config.MaxPreviews = DefaultConfig().MaxPreviews
	}
	recognisers := make([]recogniser, 0, len(catalogue)+len(aggressiveCatalogue))
	recognisers = append(recognisers, catalogue...)
	if config.Aggressive {
		recognisers = append(recognisers, aggressiveCatalogue...)
	}
	return &Redactor{config: config, recognisers: recognisers}
}

// Redact scrubs every catalogue match from raw and reports what was removed.
// The caller must discard the raw input afterwards.
func (r *Redactor) Redact(raw string) (Log, error) {
	if strings.TrimSpace(raw) == "" {
		return Log{}, faults.New(faults.InputInvalid, "log is empty")
	}
	if len(raw) > r.config.MaxLogBytes {
		return Log{}, faults.New(faults.InputInvalid,
			"log is %d bytes, limit is %d", len(raw), r.config.MaxLogBytes)
	}

	text := raw
	byCategory := make(map[Category]int)
	previews := make(map[Category][]string)
	hitOrder := make([]Category, 0, 8)
	total := 0
	risk := RiskNone

	for _, rec := range r.recognisers {
		matches := rec.pattern.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		if _, seen := byCategory[rec.category]; !seen {
			hitOrder = append(hitOrder, rec.category)
		}
		for _, m := range matches {
			if len(previews[rec.category]) < r.config.MaxPreviews {
				previews[rec.category] = append(previews[rec.category], truncate(m, r.config.PreviewLength))
			}
		}
		byCategory[rec.category] += len(matches)
		total += len(matches)
		risk = escalateRisk(risk, rec.severity)
		text = rec.pattern.ReplaceAllString(text, placeholder(rec.category))
	}

	hits := make([]PatternHit, 0, len(hitOrder))
	for _, cat := range hitOrder {
		hits = append(hits, PatternHit{
			Category: cat,
			Count:    byCategory[cat],
			Previews: previews[cat],
		})
	}

	return Log{
		Text: text,
		Stats: Stats{
			SecretsFound: total,
			ByCategory:   byCategory,
			Risk:         risk,
		},
		PatternHits: hits,
	}, nil
}

func placeholder(cat Category) string {
	return "[REDACTED_" + string(cat) + "]"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// escalateRisk is monotone: the roll-up only moves toward critical.
func escalateRisk(current RiskLevel, sev Severity) RiskLevel {
	var candidate RiskLevel
	switch sev {
	case SeverityCritical:
		candidate = RiskCritical
	case SeverityHigh:
		candidate = RiskHigh
	default:
		candidate = RiskMedium
	}
	if rank(candidate) > rank(current) {
		return candidate
	}
	return current
}

func rank(r RiskLevel) int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}
