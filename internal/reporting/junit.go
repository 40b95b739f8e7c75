package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spboyer/querylens/internal/scoring"
	"github.com/spboyer/querylens/internal/session"
)

// JUnit XML schema types

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one query session.
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to the query itself or one evaluation metric.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

// JUnitFailure represents a metric below the required tier.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitError represents a query or evaluation that did not complete.
type JUnitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitSkipped marks a metric that was never scored.
type JUnitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

const junitClassname = "querylens"

// ConvertToJUnit converts a finished session to JUnit XML. The query is one
// test case; each metric is another that fails when its tier is below minTier.
func ConvertToJUnit(s session.QuerySession, minTier scoring.Tier) *JUnitTestSuites {
	durationSec := s.UpdatedAt.Sub(s.SubmittedAt).Seconds()

	suite := JUnitTestSuite{
		Name:      s.QueryText,
		Time:      durationSec,
		Timestamp: s.SubmittedAt.Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "session", Value: s.ID},
			{Name: "generation", Value: strconv.FormatUint(s.Generation, 10)},
			{Name: "state", Value: string(s.State())},
			{Name: "min_tier", Value: string(minTier)},
		},
	}
	if s.EvaluationJobID != "" {
		suite.Properties = append(suite.Properties, JUnitProperty{Name: "evaluation_job_id", Value: s.EvaluationJobID})
	}

	query := JUnitTestCase{Name: "query", Classname: junitClassname, Time: durationSec}
	if s.State() == session.StateSubmitFailed {
		query.Error = &JUnitError{Message: s.ErrorMessage, Type: "QueryError"}
	}
	suite.TestCases = append(suite.TestCases, query)

	suite.TestCases = append(suite.TestCases, metricCases(s, minTier)...)

	for _, tc := range suite.TestCases {
		suite.Tests++
		switch {
		case tc.Failure != nil:
			suite.Failures++
		case tc.Error != nil:
			suite.Errors++
		case tc.Skipped != nil:
			suite.Skipped++
		}
	}

	return &JUnitTestSuites{
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Errors:     suite.Errors,
		Time:       durationSec,
		TestSuites: []JUnitTestSuite{suite},
	}
}

func metricCases(s session.QuerySession, minTier scoring.Tier) []JUnitTestCase {
	names := []string{"faithfulness", "answer_relevance", "context_precision"}
	cases := make([]JUnitTestCase, 0, len(names))

	if s.State() == session.StateEvaluated {
		for _, m := range scoring.Assess(*s.EvaluationScores).Metrics {
			tc := JUnitTestCase{Name: m.Name, Classname: junitClassname}
			if !m.Tier.AtLeast(minTier) {
				tc.Failure = &JUnitFailure{
					Message: fmt.Sprintf("%s: score=%.2f tier=%s", m.Label, m.Value, m.Tier),
					Type:    "ScoreBelowTier",
					Body:    fmt.Sprintf("required tier %s or better", minTier),
				}
			}
			cases = append(cases, tc)
		}
		return cases
	}

	for _, name := range names {
		tc := JUnitTestCase{Name: name, Classname: junitClassname}
		switch s.State() {
		case session.StateEvalFailed:
			tc.Error = &JUnitError{Message: s.ErrorMessage, Type: "EvaluationError"}
		case session.StateStalled:
			tc.Error = &JUnitError{Message: s.Stall.Message, Type: "EvaluationStalled", Body: string(s.Stall.Reason)}
		default:
			tc.Skipped = &JUnitSkipped{Message: "not evaluated"}
		}
		cases = append(cases, tc)
	}
	return cases
}

// WriteJUnitXML writes JUnit XML for s to the specified file path.
func WriteJUnitXML(s session.QuerySession, minTier scoring.Tier, path string) error {
	suites := ConvertToJUnit(s, minTier)

	data, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JUnit XML: %w", err)
	}

	output := append([]byte(xml.Header), data...)
	return os.WriteFile(path, output, 0644)
}
