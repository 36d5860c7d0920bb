package probe

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// Response is what a single probe attempt observed.
type Response struct {
	StatusCode int
	Body       []byte

	retryAfter string
	truncated  bool
}

// CustomFunc is a named predicate over a decoded JSON body.
type CustomFunc func(body any) bool

// Predicate operators accepted by json_path_predicate.
const (
	OpExists    = "exists"
	OpNotExists = "not_exists"
	OpEq        = "eq"
	OpNe        = "ne"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpContains  = "contains"
)

var knownOps = map[string]bool{
	OpExists: true, OpNotExists: true, OpEq: true, OpNe: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpContains: true,
}

// Registry holds custom assertion functions by name.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]CustomFunc
}

// NewRegistry creates a registry preloaded with the built-in functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]CustomFunc)}
	r.Register("non_empty_result", nonEmptyResult)
	r.Register("not_syncing", notSyncing)
	return r
}

// Register adds or replaces a custom function.
func (r *Registry) Register(name string, fn CustomFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *Registry) lookup(name string) (CustomFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Validate checks that an assertion is well formed before it is ever run.
func (r *Registry) Validate(a domain.Assertion) error {
	switch a.Type {
	case domain.AssertStatusEquals:
		if a.Status < 100 || a.Status > 599 {
			return fmt.Errorf("status_equals: invalid status %d", a.Status)
		}
	case domain.AssertJSONPathEquals:
		if a.Path == "" {
			return fmt.Errorf("json_path_equals: path is required")
		}
	case domain.AssertJSONPathPredicate:
		if a.Path == "" {
			return fmt.Errorf("json_path_predicate: path is required")
		}
		if !knownOps[a.Op] {
			return fmt.Errorf("json_path_predicate: unknown op %q", a.Op)
		}
	case domain.AssertCustom:
		if _, ok := r.lookup(a.Func); !ok {
			return fmt.Errorf("custom: function %q is not registered", a.Func)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// Evaluate runs one assertion against a response. A nil error means it passed.
func (r *Registry) Evaluate(a domain.Assertion, resp Response) error {
	switch a.Type {
	case domain.AssertStatusEquals:
		if resp.StatusCode != a.Status {
			return fmt.Errorf("status %d != %d", resp.StatusCode, a.Status)
		}
		return nil

	case domain.AssertJSONPathEquals:
		res, err := lookupPath(resp.Body, a.Path)
		if err != nil {
			return err
		}
		if !res.Exists() {
			return fmt.Errorf("path %q not found", a.Path)
		}
		if !valuesEqual(res, a.Value) {
			return fmt.Errorf("path %q = %q, want %q", a.Path, res.String(), a.Value)
		}
		return nil

	case domain.AssertJSONPathPredicate:
		res, err := lookupPath(resp.Body, a.Path)
		if err != nil {
			return err
		}
		return applyOp(a, res)

	case domain.AssertCustom:
		fn, ok := r.lookup(a.Func)
		if !ok {
			return fmt.Errorf("custom function %q is not registered", a.Func)
		}
		var body any
		if len(resp.Body) > 0 {
			if err := json.Unmarshal(resp.Body, &body); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
		}
		if !fn(body) {
			return fmt.Errorf("custom check %q returned false", a.Func)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func lookupPath(body []byte, path string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("parse response: invalid JSON")
	}
	return gjson.GetBytes(body, path), nil
}

func applyOp(a domain.Assertion, res gjson.Result) error {
	switch a.Op {
	case OpExists:
		if !res.Exists() {
			return fmt.Errorf("path %q not found", a.Path)
		}
		return nil
	case OpNotExists:
		if res.Exists() {
			return fmt.Errorf("path %q exists", a.Path)
		}
		return nil
	}

	if !res.Exists() {
		return fmt.Errorf("path %q not found", a.Path)
	}

	switch a.Op {
	case OpEq:
		if !valuesEqual(res, a.Value) {
			return fmt.Errorf("path %q = %q, want %q", a.Path, res.String(), a.Value)
		}
	case OpNe:
		if valuesEqual(res, a.Value) {
			return fmt.Errorf("path %q = %q, want anything else", a.Path, res.String())
		}
	case OpContains:
		if !strings.Contains(res.String(), a.Value) {
			return fmt.Errorf("path %q = %q, does not contain %q", a.Path, res.String(), a.Value)
		}
	case OpGt, OpGte, OpLt, OpLte:
		got, ok := parseNumber(res.String())
		if !ok {
			return fmt.Errorf("path %q = %q is not a number", a.Path, res.String())
		}
		want, ok := parseNumber(a.Value)
		if !ok {
			return fmt.Errorf("predicate value %q is not a number", a.Value)
		}
		cmp := got.Cmp(want)
		pass := (a.Op == OpGt && cmp > 0) ||
			(a.Op == OpGte && cmp >= 0) ||
			(a.Op == OpLt && cmp < 0) ||
			(a.Op == OpLte && cmp <= 0)
		if !pass {
			return fmt.Errorf("path %q = %s, want %s %s", a.Path, got, a.Op, want)
		}
	default:
		return fmt.Errorf("unknown op %q", a.Op)
	}
	return nil
}

// valuesEqual compares numerically when both sides are numbers, so "1" and 1.0 match.
func valuesEqual(res gjson.Result, want string) bool {
	if res.String() == want {
		return true
	}
	got, ok1 := parseNumber(res.String())
	w, ok2 := parseNumber(want)
	return ok1 && ok2 && got.Equal(w)
}

// parseNumber accepts decimal strings and 0x-prefixed hex quantities.
func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigInt(n, 0), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func nonEmptyResult(body any) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	switch v := m["result"].(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

// notSyncing passes when eth_syncing reports false.
func notSyncing(body any) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	v, ok := m["result"].(bool)
	return ok && !v
}
