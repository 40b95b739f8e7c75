package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spboyer/querylens/schemas"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Envelope names a response shape that can be checked against its schema.
type Envelope string

const (
	QueryResponse  Envelope = "query_response"
	StatusResponse Envelope = "status_response"
	AnalysisReport Envelope = "analysis_report"
)

var printer = message.NewPrinter(language.English)

// compiled holds one schema per envelope, built on first use. The embedded
// documents ship with the binary, so a compile failure is a programming
// error.
var compiled = sync.OnceValue(func() map[Envelope]*jsonschema.Schema {
	sources := map[Envelope]string{
		QueryResponse:  schemas.QueryResponseSchemaJSON,
		StatusResponse: schemas.StatusResponseSchemaJSON,
		AnalysisReport: schemas.AnalysisReportSchemaJSON,
	}

	c := jsonschema.NewCompiler()
	for e, raw := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("parsing %s schema: %v", e, err))
		}
		if err := c.AddResource(e.resource(), doc); err != nil {
			panic(fmt.Sprintf("registering %s schema: %v", e, err))
		}
	}

	out := make(map[Envelope]*jsonschema.Schema, len(sources))
	for e := range sources {
		out[e] = c.MustCompile(e.resource())
	}
	return out
})

func (e Envelope) resource() string {
	return string(e) + ".schema.json"
}

// ValidateJSON validates a raw response body against the schema for e.
// It returns one message per violated constraint, prefixed with the JSON
// pointer of the offending value. A nil result means the body is valid.
func ValidateJSON(e Envelope, data []byte) []string {
	schema, ok := compiled()[e]
	if !ok {
		return []string{fmt.Sprintf("unknown envelope %q", e)}
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("JSON parse error: %v", err)}
	}

	var ve *jsonschema.ValidationError
	switch err := schema.Validate(doc); {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return leafErrors(ve, nil)
	default:
		return []string{fmt.Sprintf("schema: %v", err)}
	}
}

// leafErrors flattens a validation error tree into "pointer: message"
// lines, one per failing leaf.
func leafErrors(ve *jsonschema.ValidationError, out []string) []string {
	for _, c := range ve.Causes {
		out = leafErrors(c, out)
	}
	if len(ve.Causes) > 0 {
		return out
	}
	ptr := "/" + strings.Join(ve.InstanceLocation, "/")
	return append(out, ptr+": "+ve.ErrorKind.LocalizedString(printer))
}
