// Package policy evaluates deny-first, first-match-wins rules against
// a call's (module, host, environment, params) tuple, generalized from
// this codebase's role/permission authorizer to glob-based clause
// matching.
package policy

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/oriys/ftl2/internal/domain"
	"github.com/oriys/ftl2/internal/logging"
)

// Engine evaluates an ordered Policy.
type Engine struct {
	policy domain.Policy
}

// New constructs an Engine over the given policy.
func New(policy domain.Policy) *Engine {
	return &Engine{policy: policy}
}

// Evaluate runs every rule in declaration order; the first matching
// deny wins. An empty policy, or one where no rule matches, allows.
func (e *Engine) Evaluate(module, host, environment string, params map[string]any) domain.Decision {
	for _, rule := range e.policy.Rules {
		if rule.Decision != "deny" {
			continue
		}
		if matchRule(rule.Match, module, host, environment, params) {
			logging.Op().Info("policy denied call",
				"module", module, "host", host, "environment", environment, "reason", rule.Reason)
			return domain.Deny(rule.Reason)
		}
	}
	return domain.Allow
}

func matchRule(m domain.PolicyMatch, module, host, environment string, params map[string]any) bool {
	if m.Module != "" && !globMatch(m.Module, module) {
		return false
	}
	if m.Host != "" && !globMatch(m.Host, host) {
		return false
	}
	if m.Environment != "" && m.Environment != environment {
		return false
	}
	for k, want := range m.Params {
		got, ok := params[k]
		if !ok {
			return false
		}
		if !globMatch(want, stringify(got)) {
			return false
		}
	}
	return true
}

// globMatch reports whether value matches pattern, supporting the
// glob wildcards path.Match understands (*, ?, character classes).
// Falls back to exact equality if the pattern is not a valid glob.
func globMatch(pattern, value string) bool {
	if pattern == value {
		return true
	}
	matched, err := path.Match(pattern, value)
	if err != nil {
		return false
	}
	return matched
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// TrimParamPrefix strips the "param." prefix from a policy-file match
// key, returning the bare parameter name and whether the prefix was
// present.
func TrimParamPrefix(key string) (string, bool) {
	const prefix = "param."
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}
