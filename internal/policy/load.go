package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oriys/ftl2/internal/domain"
)

// rawPolicy mirrors the policy file's documented shape:
// {rules: [{decision, match: {module?, host?, environment?, "param.<k>"?}, reason}]}.
type rawPolicy struct {
	Rules []rawRule `yaml:"rules"`
}

type rawRule struct {
	Decision string            `yaml:"decision"`
	Match    map[string]string `yaml:"match"`
	Reason   string            `yaml:"reason"`
}

// Load reads and parses a policy file. A missing path yields an empty
// (always-allow) policy, matching the spec's "empty policy is always
// allow" contract.
func Load(path string) (domain.Policy, error) {
	if path == "" {
		return domain.Policy{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Policy{}, nil
		}
		return domain.Policy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var raw rawPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	policy := domain.Policy{Rules: make([]domain.PolicyRule, 0, len(raw.Rules))}
	for _, r := range raw.Rules {
		match := domain.PolicyMatch{Params: map[string]string{}}
		for k, v := range r.Match {
			switch k {
			case "module":
				match.Module = v
			case "host":
				match.Host = v
			case "environment":
				match.Environment = v
			default:
				if name, ok := TrimParamPrefix(k); ok {
					match.Params[name] = v
				}
			}
		}
		policy.Rules = append(policy.Rules, domain.PolicyRule{
			Decision: r.Decision,
			Match:    match,
			Reason:   r.Reason,
		})
	}

	return policy, nil
}
