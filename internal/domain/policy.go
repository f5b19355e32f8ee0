package domain

// Decision is the result of evaluating a policy against a call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the zero-cost allow decision returned when no rule denies.
var Allow = Decision{Allowed: true}

// Deny builds a deny decision carrying the matched rule's reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// PolicyRule is one ordered entry in a Policy. A rule matches a call
// when every non-empty clause in Match matches; Params matches against
// the stringified form of the named parameter.
type PolicyRule struct {
	Decision string // currently only "deny" is meaningful per spec
	Match    PolicyMatch
	Reason   string
}

// PolicyMatch holds the optional glob/equality clauses of a rule.
// Empty fields are wildcards (always match).
type PolicyMatch struct {
	Module      string
	Host        string
	Environment string
	Params      map[string]string // "param.<k>" clauses, keyed by k
}

// Policy is the ordered list of deny rules evaluated for every call.
type Policy struct {
	Rules []PolicyRule
}
