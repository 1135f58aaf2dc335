package processor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/signalhouse/relay/pkg/telemetry"
)

// Processor selects and transforms telemetry records. Process returns nil
// when the record is not selected by the processor's criteria; callers keep
// the original record in that case. A non-nil result is always a fresh
// record, never an alias of the input.
type Processor interface {
	Name() string
	Process(rec *telemetry.Record) *telemetry.Record
}

// New compiles a Config into a Processor. All regex compilation and
// structural validation happens here: a misconfigured processor is a
// construction failure, never a per-record one.
func New(cfg Config, logger *slog.Logger) (Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	include, err := compileMatch(cfg.Include, cfg.Name)
	if err != nil {
		return nil, err
	}
	exclude, err := compileMatch(cfg.Exclude, cfg.Name)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeAttribute:
		actions := make([]compiledAction, 0, len(cfg.Actions))
		for _, a := range cfg.Actions {
			ca, err := compileAction(a, cfg.Name)
			if err != nil {
				return nil, err
			}
			actions = append(actions, ca)
		}
		return &attributeProcessor{
			name:    cfg.Name,
			include: include,
			exclude: exclude,
			actions: actions,
			logger:  logger,
		}, nil
	case TypeSpanRename, TypeLogRename:
		rules := make([]*regexp.Regexp, 0, len(cfg.Rename.ToAttributes))
		for _, p := range cfg.Rename.ToAttributes {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("processor %s: invalid to_attributes pattern %q: %w", cfg.Name, p, err)
			}
			if len(namedGroups(re)) == 0 {
				return nil, fmt.Errorf("processor %s: to_attributes pattern %q has no named groups", cfg.Name, p)
			}
			rules = append(rules, re)
		}
		return &renameProcessor{
			name:           cfg.Name,
			logShaped:      cfg.Type == TypeLogRename,
			include:        include,
			exclude:        exclude,
			fromAttributes: cfg.Rename.FromAttributes,
			separator:      cfg.Rename.Separator,
			toAttributes:   rules,
			logger:         logger,
		}, nil
	default:
		return nil, fmt.Errorf("processor %s: unknown type %q", cfg.Name, cfg.Type)
	}
}

// attributeProcessor applies an ordered action list to selected records.
type attributeProcessor struct {
	name    string
	include *compiledMatch
	exclude *compiledMatch
	actions []compiledAction
	logger  *slog.Logger
}

func (p *attributeProcessor) Name() string { return p.name }

func (p *attributeProcessor) Process(rec *telemetry.Record) *telemetry.Record {
	if !selected(p.include, p.exclude, rec) {
		recordProcessed(context.Background(), p.name, outcomeSkipped)
		return nil
	}
	out := rec.Clone()
	for _, a := range p.actions {
		a.apply(out.Attributes)
	}
	recordProcessed(context.Background(), p.name, outcomeTransformed)
	return out
}

// renameProcessor rebuilds span names or log bodies from attributes, then
// applies to_attributes extraction rules against the (possibly rewritten)
// name.
type renameProcessor struct {
	name           string
	logShaped      bool
	include        *compiledMatch
	exclude        *compiledMatch
	fromAttributes []string
	separator      string
	toAttributes   []*regexp.Regexp
	logger         *slog.Logger
}

func (p *renameProcessor) Name() string { return p.name }

func (p *renameProcessor) Process(rec *telemetry.Record) *telemetry.Record {
	if rec.IsLog() != p.logShaped {
		return nil
	}
	if !selected(p.include, p.exclude, rec) {
		recordProcessed(context.Background(), p.name, outcomeSkipped)
		return nil
	}
	out := rec.Clone()
	p.renameFromAttributes(out)
	p.applyToAttributes(out)
	recordProcessed(context.Background(), p.name, outcomeTransformed)
	return out
}

// renameFromAttributes joins the configured attribute values into a new
// name. If any listed attribute is missing the rename is skipped entirely;
// a partial concatenation is never produced.
func (p *renameProcessor) renameFromAttributes(rec *telemetry.Record) {
	if len(p.fromAttributes) == 0 {
		return
	}
	parts := make([]string, 0, len(p.fromAttributes))
	for _, key := range p.fromAttributes {
		v, ok := rec.Attributes[key]
		if !ok {
			return
		}
		parts = append(parts, v.AsString())
	}
	rec.Name = strings.Join(parts, p.separator)
}

// applyToAttributes runs each extraction rule in order against the current
// name. A matching rule lifts its named groups into attributes and replaces
// the captured text with {group} placeholders; later rules operate on the
// already-rewritten name.
func (p *renameProcessor) applyToAttributes(rec *telemetry.Record) {
	for _, re := range p.toAttributes {
		idx := re.FindStringSubmatchIndex(rec.Name)
		if idx == nil {
			continue
		}
		name := rec.Name
		// Replace captures right to left so earlier indexes stay valid.
		type capture struct {
			start, end int
			group      string
			text       string
		}
		var captures []capture
		for i, groupName := range re.SubexpNames() {
			if groupName == "" {
				continue
			}
			start, end := idx[2*i], idx[2*i+1]
			if start < 0 {
				continue
			}
			captures = append(captures, capture{start: start, end: end, group: groupName, text: name[start:end]})
		}
		for i := len(captures) - 1; i >= 0; i-- {
			c := captures[i]
			rec.SetAttribute(c.group, telemetry.StringValue(c.text))
			name = name[:c.start] + "{" + c.group + "}" + name[c.end:]
		}
		rec.Name = name
	}
}
