package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oriys/ftl2/internal/domain"
)

func TestEvaluate_EmptyPolicyAllows(t *testing.T) {
	e := New(domain.Policy{})
	d := e.Evaluate("pkg.install", "web1", "prod", nil)
	assert.True(t, d.Allowed)
}

func TestEvaluate_MatchingDenyRuleWins(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "deny", Match: domain.PolicyMatch{Module: "shell.*"}, Reason: "shell is forbidden"},
	}}
	e := New(p)

	d := e.Evaluate("shell.exec", "web1", "prod", nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, "shell is forbidden", d.Reason)

	d = e.Evaluate("pkg.install", "web1", "prod", nil)
	assert.True(t, d.Allowed)
}

func TestEvaluate_FirstMatchWins(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "deny", Match: domain.PolicyMatch{Module: "shell.*"}, Reason: "first"},
		{Decision: "deny", Match: domain.PolicyMatch{Module: "shell.exec"}, Reason: "second"},
	}}
	e := New(p)

	d := e.Evaluate("shell.exec", "web1", "prod", nil)
	assert.Equal(t, "first", d.Reason)
}

func TestEvaluate_HostGlobAndEnvironmentExactMatch(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "deny", Match: domain.PolicyMatch{Host: "web*", Environment: "prod"}, Reason: "no prod web writes"},
	}}
	e := New(p)

	assert.False(t, e.Evaluate("pkg.install", "web1", "prod", nil).Allowed)
	assert.True(t, e.Evaluate("pkg.install", "web1", "staging", nil).Allowed, "environment mismatch should not match")
	assert.True(t, e.Evaluate("pkg.install", "db1", "prod", nil).Allowed, "host glob mismatch should not match")
}

func TestEvaluate_ParamClauseMatchesStringifiedValue(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "deny", Match: domain.PolicyMatch{
			Module: "http.request",
			Params: map[string]string{"method": "DELETE"},
		}, Reason: "no deletes"},
	}}
	e := New(p)

	denied := e.Evaluate("http.request", "web1", "prod", map[string]any{"method": "DELETE"})
	assert.False(t, denied.Allowed)

	allowed := e.Evaluate("http.request", "web1", "prod", map[string]any{"method": "GET"})
	assert.True(t, allowed.Allowed)
}

func TestEvaluate_ParamClauseMissingParamDoesNotMatch(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "deny", Match: domain.PolicyMatch{Params: map[string]string{"method": "DELETE"}}, Reason: "no deletes"},
	}}
	e := New(p)

	d := e.Evaluate("http.request", "web1", "prod", map[string]any{"url": "http://x"})
	assert.True(t, d.Allowed)
}

func TestEvaluate_NonDenyRulesAreIgnored(t *testing.T) {
	p := domain.Policy{Rules: []domain.PolicyRule{
		{Decision: "allow", Match: domain.PolicyMatch{Module: "*"}, Reason: "explicit allow is a no-op"},
	}}
	e := New(p)
	assert.True(t, e.Evaluate("anything", "web1", "prod", nil).Allowed)
}

func TestTrimParamPrefix(t *testing.T) {
	name, ok := TrimParamPrefix("param.method")
	assert.True(t, ok)
	assert.Equal(t, "method", name)

	_, ok = TrimParamPrefix("module")
	assert.False(t, ok)
}

func TestGlobMatch_SupportsWildcardsAndExactFallback(t *testing.T) {
	assert.True(t, globMatch("shell.*", "shell.exec"))
	assert.True(t, globMatch("exact", "exact"))
	assert.False(t, globMatch("shell.*", "pkg.install"))
	assert.False(t, globMatch("[", "anything"), "invalid glob pattern falls back to no-match")
}

func TestStringify_NumericFloatFormatting(t *testing.T) {
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "5", stringify(5))
	assert.Equal(t, "5", stringify(float64(5)))
	assert.Equal(t, "5.5", stringify(5.5))
}
