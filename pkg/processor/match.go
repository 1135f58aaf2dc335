package processor

import (
	"fmt"
	"regexp"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// compiledCondition is an attribute constraint with its literal or pattern
// comparison prepared at construction time.
type compiledCondition struct {
	key     string
	hasWant bool
	want    telemetry.Value
	pattern *regexp.Regexp // set for regexp configs with a value
}

// compiledMatch is a Match block with every name set and pattern compiled.
type compiledMatch struct {
	strict     bool
	spanNames  map[string]struct{}
	logBodies  map[string]struct{}
	spanRes    []*regexp.Regexp
	logRes     []*regexp.Regexp
	conditions []compiledCondition
}

// anchored compiles a pattern with full-string match semantics.
func anchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}

func compileMatch(m *Match, processor string) (*compiledMatch, error) {
	if m == nil {
		return nil, nil
	}
	out := &compiledMatch{strict: m.MatchType == MatchStrict}
	if out.strict {
		if len(m.SpanNames) > 0 {
			out.spanNames = make(map[string]struct{}, len(m.SpanNames))
			for _, n := range m.SpanNames {
				out.spanNames[n] = struct{}{}
			}
		}
		if len(m.LogBodies) > 0 {
			out.logBodies = make(map[string]struct{}, len(m.LogBodies))
			for _, n := range m.LogBodies {
				out.logBodies[n] = struct{}{}
			}
		}
	} else {
		for _, p := range m.SpanNames {
			re, err := anchored(p)
			if err != nil {
				return nil, fmt.Errorf("processor %s: invalid span name pattern %q: %w", processor, p, err)
			}
			out.spanRes = append(out.spanRes, re)
		}
		for _, p := range m.LogBodies {
			re, err := anchored(p)
			if err != nil {
				return nil, fmt.Errorf("processor %s: invalid log body pattern %q: %w", processor, p, err)
			}
			out.logRes = append(out.logRes, re)
		}
	}
	for _, cond := range m.Attributes {
		cc := compiledCondition{key: cond.Key}
		if cond.Value != nil {
			cc.hasWant = true
			want, err := telemetry.ValueOf(cond.Value)
			if err != nil {
				return nil, fmt.Errorf("processor %s: attribute condition %s: %w", processor, cond.Key, err)
			}
			cc.want = want
			if !out.strict {
				re, err := anchored(want.AsString())
				if err != nil {
					return nil, fmt.Errorf("processor %s: invalid attribute value pattern for %s: %w", processor, cond.Key, err)
				}
				cc.pattern = re
			}
		}
		out.conditions = append(out.conditions, cc)
	}
	return out, nil
}

// matches reports whether the record satisfies the block. Name lists gate by
// record shape: span names only constrain span-shaped records, log bodies
// only log-shaped ones.
func (cm *compiledMatch) matches(rec *telemetry.Record) bool {
	if cm == nil {
		return false
	}
	isLog := rec.IsLog()
	hasSpanList := len(cm.spanNames) > 0 || len(cm.spanRes) > 0
	hasLogList := len(cm.logBodies) > 0 || len(cm.logRes) > 0
	if hasSpanList || hasLogList {
		if isLog {
			if !hasLogList || !cm.nameMatches(rec.Name, cm.logBodies, cm.logRes) {
				return false
			}
		} else {
			if !hasSpanList || !cm.nameMatches(rec.Name, cm.spanNames, cm.spanRes) {
				return false
			}
		}
	}
	for _, cond := range cm.conditions {
		got, ok := rec.Attributes[cond.key]
		if !ok {
			return false
		}
		if !cond.hasWant {
			continue
		}
		if cm.strict {
			if !got.Equal(cond.want) {
				return false
			}
		} else if !cond.pattern.MatchString(got.AsString()) {
			return false
		}
	}
	return true
}

func (cm *compiledMatch) nameMatches(name string, set map[string]struct{}, res []*regexp.Regexp) bool {
	if cm.strict {
		_, ok := set[name]
		return ok
	}
	for _, re := range res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// selected applies the include-AND-NOT-exclude rule. A nil include means all
// records are eligible; a nil exclude excludes nothing.
func selected(include, exclude *compiledMatch, rec *telemetry.Record) bool {
	if include != nil && !include.matches(rec) {
		return false
	}
	if exclude != nil && exclude.matches(rec) {
		return false
	}
	return true
}
