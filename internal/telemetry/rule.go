package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule names accepted by ParseRule.
const (
	RuleNamespace     = "namespace"
	rulePrefixSegment = "segment:"
)

// Rule extracts a device identifier from a topic.
//
// Two conventions coexist: "<ns>/<deviceId>/..." puts the id at index 1,
// "thing/product/<sn>/..." at index 2. A segment rule pins one index; the
// namespace rule takes the level after the configured namespace and falls
// back to index 1 for topics outside it.
type Rule struct {
	index     int
	namespace string
}

// SegmentRule returns a rule reading the given zero-based topic level.
func SegmentRule(index int) Rule {
	return Rule{index: index}
}

// NamespaceRule returns a rule keyed on the given namespace prefix.
func NamespaceRule(namespace string) Rule {
	return Rule{index: -1, namespace: strings.Trim(namespace, "/")}
}

// ParseRule parses "namespace" or "segment:<n>".
func ParseRule(def, namespace string) (Rule, error) {
	if def == "" || def == RuleNamespace {
		return NamespaceRule(namespace), nil
	}
	idx, ok := strings.CutPrefix(def, rulePrefixSegment)
	if !ok {
		return Rule{}, fmt.Errorf("telemetry: unknown device id rule %q", def)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Rule{}, fmt.Errorf("telemetry: invalid segment index in %q", def)
	}
	return SegmentRule(n), nil
}

// DeviceID returns the identifier for topic, or false when the topic has no
// such level.
func (r Rule) DeviceID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	idx := r.index
	if idx < 0 {
		idx = 1
		if r.namespace != "" && strings.HasPrefix(topic, r.namespace+"/") {
			idx = strings.Count(r.namespace, "/") + 1
		}
	}
	if idx >= len(parts) || parts[idx] == "" {
		return "", false
	}
	return parts[idx], true
}

// String renders the rule in ParseRule syntax.
func (r Rule) String() string {
	if r.index < 0 {
		return RuleNamespace
	}
	return rulePrefixSegment + strconv.Itoa(r.index)
}
