package domain

import "time"

// Criticality ranks how much the engine depends on a dependency.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// Valid reports whether c is one of the known criticality levels.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// Category groups dependencies for reporting (e.g. "blockchain_rpc", "price_feed").
type Category string

const (
	CategoryBlockchainRPC Category = "blockchain_rpc"
	CategoryPriceFeed     Category = "price_feed"
	CategoryExchangeAPI   Category = "exchange_api"
	CategoryInfra         Category = "infrastructure"
)

// ProbeKind selects the transport used to probe an endpoint.
type ProbeKind string

const (
	ProbeHTTP ProbeKind = "http"
	ProbeGRPC ProbeKind = "grpc"
)

// DependencyDefinition is the immutable description of a monitored dependency.
type DependencyDefinition struct {
	ID          string
	Name        string
	Category    Category
	Criticality Criticality
	Endpoints   []EndpointProbe
}

// EndpointProbe describes a single liveness probe against one endpoint.
type EndpointProbe struct {
	Kind           ProbeKind
	Method         string
	URL            string
	Headers        map[string]string
	Body           []byte
	JSONRPC        *JSONRPCCall
	ExpectedStatus int
	Assertions     []Assertion
	Timeout        time.Duration
}

// JSONRPCCall describes a JSON-RPC request the probe should send instead of a raw body.
type JSONRPCCall struct {
	Method  string `yaml:"method"  json:"method"`
	Params  []any  `yaml:"params"  json:"params,omitempty"`
	Version string `yaml:"version" json:"version,omitempty"` // "1.0" or "2.0" (default)
}

// AssertionType tags the variant of a response assertion.
type AssertionType string

const (
	AssertStatusEquals      AssertionType = "status_equals"
	AssertJSONPathEquals    AssertionType = "json_path_equals"
	AssertJSONPathPredicate AssertionType = "json_path_predicate"
	AssertCustom            AssertionType = "custom"
)

// Assertion is a serializable check over a probe response.
//
// Only the fields relevant to Type are read:
//   - status_equals: Status
//   - json_path_equals: Path, Value
//   - json_path_predicate: Path, Op, Value
//   - custom: Func (name registered with the probe package)
type Assertion struct {
	Type   AssertionType `yaml:"type"             json:"type"`
	Path   string        `yaml:"path,omitempty"   json:"path,omitempty"`
	Op     string        `yaml:"op,omitempty"     json:"op,omitempty"`
	Value  string        `yaml:"value,omitempty"  json:"value,omitempty"`
	Status int           `yaml:"status,omitempty" json:"status,omitempty"`
	Func   string        `yaml:"func,omitempty"   json:"func,omitempty"`
}
