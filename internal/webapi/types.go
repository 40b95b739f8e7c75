package webapi

// ScenarioKind selects how the scripted backend answers a matching query.
type ScenarioKind string

const (
	// KindResults answers with rows and an optional scripted evaluation.
	KindResults ScenarioKind = "results"
	// KindError answers 200 with success=false and an error_type.
	KindError ScenarioKind = "error"
	// KindHTTPError answers with a non-2xx status.
	KindHTTPError ScenarioKind = "http_error"
)

// Script is the scripted backend's configuration file.
type Script struct {
	// DatabaseDown makes /api/health report a disconnected database.
	DatabaseDown bool       `yaml:"database_down"`
	Scenarios    []Scenario `yaml:"scenarios"`
}

// Scenario answers every query containing Match (case-insensitive). An empty
// Match matches everything. Params are decoded per Kind.
type Scenario struct {
	Name   string         `yaml:"name"`
	Match  string         `yaml:"match"`
	Kind   ScenarioKind   `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// ErrorResponse is the body of non-2xx responses.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
