package processor

import (
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// placeholderRe finds ${name} placeholders in mask replacement templates.
var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// compiledAction is an Action with its literal value converted and any
// pattern compiled. Every compiled action is independently idempotent given
// its inputs.
type compiledAction struct {
	key           string
	typ           ActionType
	hasValue      bool
	value         telemetry.Value
	fromAttribute string
	pattern       *regexp.Regexp
	replacement   string
}

func compileAction(a Action, processor string) (compiledAction, error) {
	ca := compiledAction{key: a.Key, typ: a.Action, fromAttribute: a.FromAttribute, replacement: a.Replacement}
	if a.Key == "" {
		return ca, fmt.Errorf("processor %s: action key is required", processor)
	}
	switch a.Action {
	case ActionInsert, ActionUpdate:
		if a.Value == nil && a.FromAttribute == "" {
			return ca, fmt.Errorf("processor %s: %s action for %q needs a value or from_attribute", processor, a.Action, a.Key)
		}
		if a.Value != nil {
			v, err := telemetry.ValueOf(a.Value)
			if err != nil {
				return ca, fmt.Errorf("processor %s: %s action for %q: %w", processor, a.Action, a.Key, err)
			}
			ca.hasValue = true
			ca.value = v
		}
	case ActionDelete, ActionHash:
		// key only
	case ActionExtract, ActionMask:
		if a.Pattern == "" {
			return ca, fmt.Errorf("processor %s: %s action for %q needs a pattern", processor, a.Action, a.Key)
		}
		re, err := anchored(a.Pattern)
		if err != nil {
			return ca, fmt.Errorf("processor %s: invalid pattern for %s action on %q: %w", processor, a.Action, a.Key, err)
		}
		groups := namedGroups(re)
		if len(groups) == 0 {
			return ca, fmt.Errorf("processor %s: pattern for %s action on %q has no named groups", processor, a.Action, a.Key)
		}
		if a.Action == ActionMask {
			if a.Replacement == "" {
				return ca, fmt.Errorf("processor %s: mask action for %q needs a replacement template", processor, a.Key)
			}
			for _, ph := range placeholderRe.FindAllStringSubmatch(a.Replacement, -1) {
				if _, ok := groups[ph[1]]; !ok {
					return ca, fmt.Errorf("processor %s: mask template for %q references unknown group %q", processor, a.Key, ph[1])
				}
			}
		}
		ca.pattern = re
	default:
		return ca, fmt.Errorf("processor %s: unknown action %q for key %q", processor, a.Action, a.Key)
	}
	return ca, nil
}

func namedGroups(re *regexp.Regexp) map[string]struct{} {
	groups := make(map[string]struct{})
	for _, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = struct{}{}
		}
	}
	return groups
}

// apply mutates the attribute map of a record clone.
func (ca compiledAction) apply(attrs map[string]telemetry.Value) {
	switch ca.typ {
	case ActionInsert:
		if _, exists := attrs[ca.key]; exists {
			return
		}
		if v, ok := ca.resolveValue(attrs); ok {
			attrs[ca.key] = v
		}
	case ActionUpdate:
		if _, exists := attrs[ca.key]; !exists {
			return
		}
		if v, ok := ca.resolveValue(attrs); ok {
			attrs[ca.key] = v
		}
	case ActionDelete:
		delete(attrs, ca.key)
	case ActionHash:
		if v, exists := attrs[ca.key]; exists {
			attrs[ca.key] = telemetry.StringValue(hashDigest(v.AsString()))
		}
	case ActionExtract:
		ca.extract(attrs)
	case ActionMask:
		ca.mask(attrs)
	}
}

func (ca compiledAction) resolveValue(attrs map[string]telemetry.Value) (telemetry.Value, bool) {
	if ca.hasValue {
		return ca.value, true
	}
	v, ok := attrs[ca.fromAttribute]
	return v, ok
}

// extract lifts every named capture group into its own attribute. The pattern
// must match the whole value. The source value is left untouched; repeated
// extraction overwrites previously derived attributes.
func (ca compiledAction) extract(attrs map[string]telemetry.Value) {
	v, exists := attrs[ca.key]
	if !exists {
		return
	}
	m := ca.pattern.FindStringSubmatch(v.AsString())
	if m == nil {
		return
	}
	for i, name := range ca.pattern.SubexpNames() {
		if name == "" || i >= len(m) {
			continue
		}
		attrs[name] = telemetry.StringValue(m[i])
	}
}

// mask replaces a value the pattern matches in full with the replacement
// template expanded from the captured groups. Values the pattern does not
// fully match are left untouched.
func (ca compiledAction) mask(attrs map[string]telemetry.Value) {
	v, exists := attrs[ca.key]
	if !exists {
		return
	}
	m := ca.pattern.FindStringSubmatch(v.AsString())
	if m == nil {
		return
	}
	captured := make(map[string]string)
	for i, name := range ca.pattern.SubexpNames() {
		if name != "" && i < len(m) {
			captured[name] = m[i]
		}
	}
	expanded := placeholderRe.ReplaceAllStringFunc(ca.replacement, func(ph string) string {
		name := placeholderRe.FindStringSubmatch(ph)[1]
		return captured[name]
	})
	attrs[ca.key] = telemetry.StringValue(expanded)
}

// hashDigest produces the stable replacement for hashed attribute values.
func hashDigest(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("HashValue:%016x", h.Sum64())
}
