package agents

import "forgefix/internal/schema"

// The wire contracts of the expert responses. Field order mirrors the shape
// the directives demand, so violation paths read naturally in corrections.

var logAnalystSchema = schema.Schema{
	Name: "logAnalyst",
	Fields: []schema.Field{
		{Name: "failureType", Type: schema.TypeString, Required: true,
			Enum: []string{"auth", "build", "test", "deploy", "network", "timeout", "env", "unknown"}},
		{Name: "severity", Type: schema.TypeString, Required: true,
			Enum: []string{"critical", "high", "medium", "low"}},
		{Name: "summary", Type: schema.TypeString, Required: true, MaxLen: 200},
		{Name: "rootCauseLines", Type: schema.TypeArray, Required: true, ItemType: schema.TypeString},
		{Name: "contextLines", Type: schema.TypeArray, ItemType: schema.TypeString, MaxItems: 5},
		{Name: "suggestedSearchTerms", Type: schema.TypeArray, ItemType: schema.TypeString, MaxItems: 3},
	},
}

var workflowExpertSchema = schema.Schema{
	Name: "workflowExpert",
	Fields: []schema.Field{
		{Name: "issueType", Type: schema.TypeString, Required: true,
			Enum: []string{"permissions", "secrets", "env-vars", "matrix", "cache", "concurrency", "none"}},
		{Name: "recommendation", Type: schema.TypeString, Required: true, MaxLen: 300},
		{Name: "yamlChanges", Type: schema.TypeArray, ItemFields: []schema.Field{
			{Name: "path", Type: schema.TypeString, Required: true},
			{Name: "oldValue", Type: schema.TypeString},
			{Name: "newValue", Type: schema.TypeString, Required: true},
			{Name: "reason", Type: schema.TypeString},
		}},
		{Name: "riskLevel", Type: schema.TypeString, Required: true,
			Enum: []string{"low", "medium", "high"}},
	},
}

var codeReviewerSchema = schema.Schema{
	Name: "codeReviewer",
	Fields: []schema.Field{
		{Name: "issuesFound", Type: schema.TypeArray, Required: true, ItemFields: []schema.Field{
			{Name: "type", Type: schema.TypeString, Required: true,
				Enum: []string{"security", "performance", "style", "logic", "testing"}},
			{Name: "severity", Type: schema.TypeString, Required: true,
				Enum: []string{"critical", "major", "minor"}},
			{Name: "file", Type: schema.TypeString, Required: true},
			{Name: "line", Type: schema.TypeInteger},
			{Name: "message", Type: schema.TypeString, Required: true},
			{Name: "suggestion", Type: schema.TypeString},
		}},
		{Name: "overallScore", Type: schema.TypeInteger, Required: true,
			Min: schema.Float(0), Max: schema.Float(100)},
		{Name: "blockers", Type: schema.TypeArray, Required: true, ItemType: schema.TypeString},
	},
}

var fixGeneratorSchema = schema.Schema{
	Name: "fixGenerator",
	Fields: []schema.Field{
		{Name: "confidence", Type: schema.TypeNumber, Required: true,
			Min: schema.Float(0), Max: schema.Float(1)},
		{Name: "fixFile", Type: schema.TypeString, Required: true},
		{Name: "fixStartLine", Type: schema.TypeInteger, Required: true},
		{Name: "fixContent", Type: schema.TypeString, Required: true},
		{Name: "explanation", Type: schema.TypeString, Required: true, MaxLen: 500},
		{Name: "testSuggestion", Type: schema.TypeString},
		{Name: "rollbackSteps", Type: schema.TypeString},
	},
}

var summarySchema = schema.Schema{
	Name: "summary",
	Fields: []schema.Field{
		{Name: "title", Type: schema.TypeString, Required: true, MaxLen: 100},
		{Name: "summary", Type: schema.TypeString, Required: true, MaxLen: 500},
		{Name: "agents", Type: schema.TypeObject, Required: true, Fields: []schema.Field{
			{Name: "logAnalyst", Type: schema.TypeObject, Required: true},
			{Name: "workflowExpert", Type: schema.TypeObject, Required: true},
			{Name: "codeReviewer", Type: schema.TypeObject, Required: true},
			{Name: "fixGenerator", Type: schema.TypeObject, Required: true},
		}},
		{Name: "overallConfidence", Type: schema.TypeNumber, Required: true,
			Min: schema.Float(0), Max: schema.Float(1)},
		{Name: "actionItems", Type: schema.TypeArray, Required: true, ItemType: schema.TypeString},
	},
}

// schemaFor returns the response contract of a role.
func schemaFor(role Role) *schema.Schema {
	switch role {
	case RoleLogAnalyst:
		return &logAnalystSchema
	case RoleWorkflowExpert:
		return &workflowExpertSchema
	case RoleCodeReviewer:
		return &codeReviewerSchema
	case RoleFixGenerator:
		return &fixGeneratorSchema
	default:
		return nil
	}
}

// SummarySchema exposes the summary contract for outbound validation.
func SummarySchema() *schema.Schema {
	return &summarySchema
}
