package webapi

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spboyer/querylens/internal/models"
	"gopkg.in/yaml.v3"
)

// plan is a compiled Scenario.
type plan struct {
	name  string
	match string
	kind  ScenarioKind
	delay time.Duration

	// results
	rows         []models.Row
	sql          string
	queryLogID   string
	evaluation   []models.EvaluationStatus
	scores       *models.RagasScores
	inlineScores bool

	// error, http_error
	errorType  models.ErrorType
	message    string
	statusCode int
}

func (p *plan) matches(query string) bool {
	return p.match == "" || strings.Contains(strings.ToLower(query), strings.ToLower(p.match))
}

// LoadScript reads a YAML (or JSON) script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses script data and checks that every scenario compiles.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if _, err := compile(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultScript answers every query with a small employee result set whose
// evaluation goes pending, evaluating, completed.
func DefaultScript() *Script {
	return &Script{
		Scenarios: []Scenario{
			{
				Name: "default",
				Kind: KindResults,
				Params: map[string]any{
					"sql": "SELECT first_name, last_name, department, role FROM employees WHERE active = TRUE",
					"rows": []any{
						map[string]any{"first_name": "Ada", "last_name": "Lovelace", "department": "Engineering", "role": "Staff Engineer"},
						map[string]any{"first_name": "Grace", "last_name": "Hopper", "department": "Engineering", "role": "Principal Engineer"},
						map[string]any{"first_name": "Katherine", "last_name": "Johnson", "department": "Research", "role": "Analyst"},
					},
					"evaluation": []any{"pending", "evaluating", "completed"},
					"scores": map[string]any{
						"faithfulness":      0.85,
						"answer_relevance":  0.92,
						"context_precision": 0.78,
					},
				},
			},
		},
	}
}

func compile(s *Script) ([]*plan, error) {
	plans := make([]*plan, 0, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		p, err := compileScenario(sc)
		if err != nil {
			name := sc.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func compileScenario(sc Scenario) (*plan, error) {
	p := &plan{name: sc.Name, match: sc.Match, kind: sc.Kind}

	var common struct {
		DelayMs int `mapstructure:"delay_ms"`
	}
	if err := decodeParams(sc.Params, &common); err != nil {
		return nil, err
	}
	p.delay = time.Duration(common.DelayMs) * time.Millisecond

	switch sc.Kind {
	case KindResults:
		var v struct {
			Rows         []map[string]any `mapstructure:"rows"`
			SQL          string           `mapstructure:"sql"`
			QueryLogID   string           `mapstructure:"query_log_id"`
			Evaluation   []string         `mapstructure:"evaluation"`
			InlineScores bool             `mapstructure:"inline_scores"`
			Scores       *struct {
				Faithfulness     float64 `mapstructure:"faithfulness"`
				AnswerRelevance  float64 `mapstructure:"answer_relevance"`
				ContextPrecision float64 `mapstructure:"context_precision"`
			} `mapstructure:"scores"`
		}
		if err := decodeParams(sc.Params, &v); err != nil {
			return nil, err
		}

		p.rows = make([]models.Row, 0, len(v.Rows))
		for _, r := range v.Rows {
			p.rows = append(p.rows, models.Row(r))
		}
		p.sql = v.SQL
		p.queryLogID = v.QueryLogID
		p.inlineScores = v.InlineScores
		for _, st := range v.Evaluation {
			status := models.EvaluationStatus(st)
			if !status.Known() {
				return nil, fmt.Errorf("'%s' is not a valid evaluation status", st)
			}
			p.evaluation = append(p.evaluation, status)
		}
		if v.Scores != nil {
			p.scores = &models.RagasScores{
				Faithfulness:     v.Scores.Faithfulness,
				AnswerRelevance:  v.Scores.AnswerRelevance,
				ContextPrecision: v.Scores.ContextPrecision,
			}
		}
		if p.inlineScores && p.scores == nil {
			return nil, fmt.Errorf("inline_scores requires scores")
		}
		if len(p.evaluation) > 0 && p.evaluation[len(p.evaluation)-1] == models.EvaluationCompleted && p.scores == nil {
			return nil, fmt.Errorf("a completed evaluation requires scores")
		}
	case KindError:
		var v struct {
			ErrorType string `mapstructure:"error_type"`
			Message   string `mapstructure:"message"`
		}
		if err := decodeParams(sc.Params, &v); err != nil {
			return nil, err
		}
		p.errorType = models.ErrorType(v.ErrorType)
		p.message = v.Message
	case KindHTTPError:
		var v struct {
			Status  int    `mapstructure:"status"`
			Message string `mapstructure:"message"`
		}
		if err := decodeParams(sc.Params, &v); err != nil {
			return nil, err
		}
		if v.Status < 400 || v.Status > 599 {
			return nil, fmt.Errorf("http_error status %d is not an error status", v.Status)
		}
		p.statusCode = v.Status
		p.message = v.Message
	default:
		return nil, fmt.Errorf("'%s' is not a valid scenario kind", sc.Kind)
	}
	return p, nil
}

func decodeParams(params map[string]any, out any) error {
	if params == nil {
		return nil
	}
	return mapstructure.Decode(params, out)
}
