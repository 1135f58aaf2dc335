package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/relay/pkg/telemetry"
)

func mustProcessor(t *testing.T, cfg Config) Processor {
	t.Helper()
	p, err := New(cfg, nil)
	require.NoError(t, err)
	return p
}

func spanWith(name string, attrs map[string]telemetry.Value) *telemetry.Record {
	rec := telemetry.NewSpan(name)
	for k, v := range attrs {
		rec.SetAttribute(k, v)
	}
	return rec
}

func TestInsertNeverOverwrites(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "insert-test",
		Type: TypeAttribute,
		Actions: []Action{
			{Key: "testKey", Action: ActionInsert, Value: "testNewValue"},
			{Key: "fresh", Action: ActionInsert, Value: "added"},
		},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"testKey": telemetry.StringValue("testValue"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.StringValue("testValue"), out.Attributes["testKey"])
	assert.Equal(t, telemetry.StringValue("added"), out.Attributes["fresh"])
}

func TestInsertFromAttribute(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "insert-from",
		Type: TypeAttribute,
		Actions: []Action{
			{Key: "copy", Action: ActionInsert, FromAttribute: "source"},
			{Key: "missing", Action: ActionInsert, FromAttribute: "nope"},
		},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"source": telemetry.IntValue(9),
	}))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.IntValue(9), out.Attributes["copy"])
	_, ok := out.Attributes["missing"]
	assert.False(t, ok)
}

func TestUpdateIsNoOpForAbsentKey(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "update-test",
		Type: TypeAttribute,
		Actions: []Action{
			{Key: "absent", Action: ActionUpdate, Value: "v"},
			{Key: "present", Action: ActionUpdate, Value: "changed"},
		},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"present": telemetry.StringValue("orig"),
	}))
	require.NotNil(t, out)
	_, ok := out.Attributes["absent"]
	assert.False(t, ok)
	assert.Equal(t, telemetry.StringValue("changed"), out.Attributes["present"])
}

func TestDeleteIsCaseSensitive(t *testing.T) {
	p := mustProcessor(t, Config{
		Name:    "delete-test",
		Type:    TypeAttribute,
		Actions: []Action{{Key: "testKey", Action: ActionDelete}},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"one":     telemetry.StringValue("1"),
		"testKey": telemetry.StringValue("testValue"),
		"TESTKEY": telemetry.StringValue("testValue2"),
	}))
	require.NotNil(t, out)
	assert.Len(t, out.Attributes, 2)
	assert.Equal(t, telemetry.StringValue("1"), out.Attributes["one"])
	assert.Equal(t, telemetry.StringValue("testValue2"), out.Attributes["TESTKEY"])
}

func TestHashReplacesValue(t *testing.T) {
	p := mustProcessor(t, Config{
		Name:    "hash-test",
		Type:    TypeAttribute,
		Actions: []Action{{Key: "user", Action: ActionHash}},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"user": telemetry.StringValue("alice@example.com"),
	}))
	require.NotNil(t, out)
	hashed := out.Attributes["user"].AsString()
	assert.Contains(t, hashed, "HashValue:")
	assert.NotContains(t, hashed, "alice")

	// Same input, same digest.
	out2 := p.Process(spanWith("op", map[string]telemetry.Value{
		"user": telemetry.StringValue("alice@example.com"),
	}))
	assert.Equal(t, hashed, out2.Attributes["user"].AsString())
}

func TestExtractNamedGroups(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "extract-test",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:     "testKey",
			Action:  ActionExtract,
			Pattern: `^(?P<proto>.*)://(?P<domain>.*)/(?P<path>.*)[?&](?P<q>.*)`,
		}},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"testKey": telemetry.StringValue("http://example.com/path?a=1,b=2"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.StringValue("http"), out.Attributes["proto"])
	assert.Equal(t, telemetry.StringValue("example.com"), out.Attributes["domain"])
	assert.Equal(t, telemetry.StringValue("path"), out.Attributes["path"])
	assert.Equal(t, telemetry.StringValue("a=1,b=2"), out.Attributes["q"])
	// Original value is preserved, not replaced.
	assert.Equal(t, telemetry.StringValue("http://example.com/path?a=1,b=2"), out.Attributes["testKey"])
}

func TestExtractOverwritesStaleGroups(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "extract-rerun",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:     "url",
			Action:  ActionExtract,
			Pattern: `(?P<proto>[a-z]+)://.*`,
		}},
	})

	rec := spanWith("op", map[string]telemetry.Value{
		"url":   telemetry.StringValue("https://example.com"),
		"proto": telemetry.StringValue("stale"),
	})
	out := p.Process(rec)
	require.NotNil(t, out)
	assert.Equal(t, telemetry.StringValue("https"), out.Attributes["proto"])
}

func TestExtractNoOpOnNonMatch(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "extract-miss",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:     "url",
			Action:  ActionExtract,
			Pattern: `(?P<proto>[a-z]+)://.*`,
		}},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"url": telemetry.StringValue("not a url"),
	}))
	require.NotNil(t, out)
	_, ok := out.Attributes["proto"]
	assert.False(t, ok)
}

func TestExtractRequiresFullValueMatch(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "extract-partial",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:     "url",
			Action:  ActionExtract,
			Pattern: `(?P<proto>[a-z]+)://`,
		}},
	})

	// The pattern only covers a prefix of the value, so nothing is
	// extracted.
	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"url": telemetry.StringValue("https://example.com"),
	}))
	require.NotNil(t, out)
	_, ok := out.Attributes["proto"]
	assert.False(t, ok)
}

func TestMaskTemplateExpansion(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "mask-test",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:         "card",
			Action:      ActionMask,
			Pattern:     `^(?P<first>[0-9]{4})[0-9]+(?P<last>[0-9]{4})$`,
			Replacement: "${first}****${last}",
		}},
	})

	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"card":  telemetry.StringValue("4111111111111111"),
		"other": telemetry.StringValue("not-a-card"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.StringValue("4111****1111"), out.Attributes["card"])

	// Non-matching value is left untouched.
	out2 := p.Process(spanWith("op", map[string]telemetry.Value{
		"card": telemetry.StringValue("short"),
	}))
	require.NotNil(t, out2)
	assert.Equal(t, telemetry.StringValue("short"), out2.Attributes["card"])
}

func TestMaskRequiresFullValueMatch(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "mask-partial",
		Type: TypeAttribute,
		Actions: []Action{{
			Key:         "note",
			Action:      ActionMask,
			Pattern:     `(?P<last>[0-9]{4})`,
			Replacement: "****${last}",
		}},
	})

	// A substring match must never replace the surrounding text.
	out := p.Process(spanWith("op", map[string]telemetry.Value{
		"note": telemetry.StringValue("card ending 1234 was used"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.StringValue("card ending 1234 was used"), out.Attributes["note"])

	// The same pattern still masks a value it matches in full.
	out2 := p.Process(spanWith("op", map[string]telemetry.Value{
		"note": telemetry.StringValue("1234"),
	}))
	require.NotNil(t, out2)
	assert.Equal(t, telemetry.StringValue("****1234"), out2.Attributes["note"])
}

func TestSelectionIsConjunctive(t *testing.T) {
	cfg := Config{
		Name: "select-test",
		Type: TypeAttribute,
		Include: &Match{
			MatchType: MatchStrict,
			SpanNames: []string{"keep", "both"},
		},
		Exclude: &Match{
			MatchType: MatchStrict,
			SpanNames: []string{"both"},
		},
		Actions: []Action{{Key: "touched", Action: ActionInsert, Value: true}},
	}
	p := mustProcessor(t, cfg)

	// Matches include only: transformed.
	out := p.Process(spanWith("keep", nil))
	require.NotNil(t, out)
	assert.Equal(t, telemetry.BoolValue(true), out.Attributes["touched"])

	// Matches include and exclude: never transformed.
	assert.Nil(t, p.Process(spanWith("both", nil)))

	// Matches neither: never transformed while include is present.
	assert.Nil(t, p.Process(spanWith("unrelated", nil)))
}

func TestRegexpSelectionGovernsAttributes(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "regexp-select",
		Type: TypeAttribute,
		Include: &Match{
			MatchType:  MatchRegexp,
			SpanNames:  []string{`GET /users/[0-9]+`},
			Attributes: []AttributeCondition{{Key: "http.status", Value: "2[0-9][0-9]"}},
		},
		Actions: []Action{{Key: "matched", Action: ActionInsert, Value: true}},
	})

	out := p.Process(spanWith("GET /users/42", map[string]telemetry.Value{
		"http.status": telemetry.StringValue("204"),
	}))
	require.NotNil(t, out)

	// Pattern must fully match the name.
	assert.Nil(t, p.Process(spanWith("GET /users/42/posts", map[string]telemetry.Value{
		"http.status": telemetry.StringValue("204"),
	})))

	// Attribute value is matched with the same regexp semantics.
	assert.Nil(t, p.Process(spanWith("GET /users/42", map[string]telemetry.Value{
		"http.status": telemetry.StringValue("500"),
	})))

	// Missing condition key fails the match.
	assert.Nil(t, p.Process(spanWith("GET /users/42", nil)))
}

func TestShapeGating(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "shape-test",
		Type: TypeAttribute,
		Include: &Match{
			MatchType: MatchStrict,
			SpanNames: []string{"op"},
			LogBodies: []string{"boom"},
		},
		Actions: []Action{{Key: "seen", Action: ActionInsert, Value: true}},
	})

	// Span checked against span_names.
	assert.NotNil(t, p.Process(spanWith("op", nil)))
	// Log checked against log_bodies, not span_names.
	assert.NotNil(t, p.Process(telemetry.NewLog("boom")))
	assert.Nil(t, p.Process(telemetry.NewLog("op")))

	// A spanNames-only criterion never matches log-shaped records.
	spanOnly := mustProcessor(t, Config{
		Name:    "span-only",
		Type:    TypeAttribute,
		Include: &Match{MatchType: MatchStrict, SpanNames: []string{"boom"}},
		Actions: []Action{{Key: "seen", Action: ActionInsert, Value: true}},
	})
	assert.Nil(t, spanOnly.Process(telemetry.NewLog("boom")))
}

func TestRenameSkipsOnMissingAttribute(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "rename-test",
		Type: TypeSpanRename,
		Rename: &Rename{
			FromAttributes: []string{"a", "b", "c"},
			Separator:      " ",
		},
	})

	// All attributes present: renamed.
	out := p.Process(spanWith("orig", map[string]telemetry.Value{
		"a": telemetry.StringValue("x"),
		"b": telemetry.StringValue("y"),
		"c": telemetry.StringValue("z"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, "x y z", out.Name)

	// Any attribute missing: name untouched, never a partial concatenation.
	out = p.Process(spanWith("orig", map[string]telemetry.Value{
		"a": telemetry.StringValue("x"),
		"b": telemetry.StringValue("y"),
	}))
	require.NotNil(t, out)
	assert.Equal(t, "orig", out.Name)
}

func TestRenameShapeGating(t *testing.T) {
	p := mustProcessor(t, Config{
		Name:   "span-rename",
		Type:   TypeSpanRename,
		Rename: &Rename{FromAttributes: []string{"a"}},
	})
	assert.Nil(t, p.Process(telemetry.NewLog("a log")))

	lp := mustProcessor(t, Config{
		Name:   "log-rename",
		Type:   TypeLogRename,
		Rename: &Rename{FromAttributes: []string{"a"}},
	})
	assert.Nil(t, lp.Process(telemetry.NewSpan("a span")))
}

func TestToAttributesRewritesName(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "to-attrs",
		Type: TypeSpanRename,
		Rename: &Rename{
			ToAttributes: []string{`/users/(?P<userID>[0-9]+)`},
		},
	})

	out := p.Process(telemetry.NewSpan("GET /users/1234/posts"))
	require.NotNil(t, out)
	assert.Equal(t, "GET /users/{userID}/posts", out.Name)
	assert.Equal(t, telemetry.StringValue("1234"), out.Attributes["userID"])
}

func TestToAttributesSequentialRules(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "to-attrs-seq",
		Type: TypeSpanRename,
		Rename: &Rename{
			ToAttributes: []string{
				`/users/(?P<userID>[0-9]+)`,
				`/orders/(?P<orderID>[0-9]+)`,
			},
		},
	})

	out := p.Process(telemetry.NewSpan("GET /users/7/orders/99"))
	require.NotNil(t, out)
	assert.Equal(t, "GET /users/{userID}/orders/{orderID}", out.Name)
	assert.Equal(t, telemetry.StringValue("7"), out.Attributes["userID"])
	assert.Equal(t, telemetry.StringValue("99"), out.Attributes["orderID"])
}

func TestToAttributesNoRuleMatches(t *testing.T) {
	p := mustProcessor(t, Config{
		Name: "to-attrs-miss",
		Type: TypeSpanRename,
		Rename: &Rename{
			ToAttributes: []string{`/users/(?P<userID>[0-9]+)`},
		},
	})

	out := p.Process(telemetry.NewSpan("GET /health"))
	require.NotNil(t, out)
	assert.Equal(t, "GET /health", out.Name)
}

func TestChainAppliesProcessorsInOrder(t *testing.T) {
	chain, err := NewChain([]Config{
		{
			Name:    "first",
			Type:    TypeAttribute,
			Actions: []Action{{Key: "step", Action: ActionInsert, Value: "one"}},
		},
		{
			Name:    "second",
			Type:    TypeAttribute,
			Actions: []Action{{Key: "step", Action: ActionUpdate, Value: "two"}},
		},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, chain.Len())

	original := telemetry.NewSpan("op")
	out := chain.Process(original)
	assert.Equal(t, telemetry.StringValue("two"), out.Attributes["step"])
	// The input record is never mutated.
	_, ok := original.Attributes["step"]
	assert.False(t, ok)
}

func TestChainKeepsRecordWhenNotSelected(t *testing.T) {
	chain, err := NewChain([]Config{{
		Name:    "gated",
		Type:    TypeAttribute,
		Include: &Match{MatchType: MatchStrict, SpanNames: []string{"other"}},
		Actions: []Action{{Key: "seen", Action: ActionInsert, Value: true}},
	}}, nil)
	require.NoError(t, err)

	rec := telemetry.NewSpan("op")
	out := chain.Process(rec)
	assert.Same(t, rec, out)
}
