// Package schemas embeds the JSON Schemas for the query backend's
// response envelopes.
package schemas

import _ "embed"

//go:embed query_response.schema.json
var QueryResponseSchemaJSON string

//go:embed status_response.schema.json
var StatusResponseSchemaJSON string

//go:embed analysis_report.schema.json
var AnalysisReportSchemaJSON string
