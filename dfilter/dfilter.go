// Package dfilter compiles display filter expressions into bytecode and
// evaluates them against the fields decoded from a packet.
//
// The filter language supports:
//   - Logical operators: and, or, xor, not, &&, ||, ^^, !
//   - Comparisons: == != < <= > >= and their keyword forms eq, ne, lt, ...
//   - Quantified comparisons: === (all equal), !== (all not equal)
//   - Membership: in, not in, with sets such as {80 443 8000..8080}
//   - Substring and pattern tests: contains, matches (~)
//   - Byte slices: field[0:2], field[-1], field[1-3,5:]
//   - Layer addressing: ip.src#2
//   - Arithmetic: + - * / % &
//   - Functions: len, count, lower, upper, string, abs, min, max
//   - Macros: ${name:arg1;arg2}
//
// Example:
//
//	reg := registry.Default()
//
//	filter, err := dfilter.Compile(`tcp.port == 80 and ip.src in {10.0.0.0/8}`, reg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	matched := filter.Evaluate(tree)
package dfilter

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/macro"
	"github.com/vitalvas/pktfilter/registry"
	"github.com/vitalvas/pktfilter/xlogger"
)

// Registry resolves field names at compile time. *registry.Snapshot
// implements it.
type Registry interface {
	LookupField(name string) (registry.Field, bool)
	Generation() uint64
}

// FieldTree supplies field values at evaluation time. *fieldtree.Tree
// implements it.
type FieldTree interface {
	FetchValues(id registry.FieldID, layer fieldtree.Layer) []ftype.Value
}

// Primer is told which fields a filter reads before dissection starts.
// *fieldtree.Builder implements it.
type Primer interface {
	Prime(ids ...registry.FieldID)
}

type options struct {
	macros      macro.Source
	noExpand    bool
	optimize    bool
	saveTree    bool
	traceLexer  bool
	traceParser bool
	logger      *slog.Logger
}

// Option configures Compile.
type Option func(*options)

// WithMacros expands ${name} references using src before lexing.
func WithMacros(src macro.Source) Option {
	return func(o *options) {
		o.macros = src
	}
}

// WithoutMacroExpansion compiles the text as written, even when a macro
// source is set.
func WithoutMacroExpansion() Option {
	return func(o *options) {
		o.noExpand = true
	}
}

// WithOptimize toggles constant folding and logical simplification.
// It is enabled by default.
func WithOptimize(enabled bool) Option {
	return func(o *options) {
		o.optimize = enabled
	}
}

// WithSaveTree keeps a rendering of the checked syntax tree, available
// from Filter.SyntaxTree.
func WithSaveTree() Option {
	return func(o *options) {
		o.saveTree = true
	}
}

// WithLexerTrace logs every token at debug level.
func WithLexerTrace() Option {
	return func(o *options) {
		o.traceLexer = true
	}
}

// WithParserTrace logs parser productions at debug level.
func WithParserTrace() Option {
	return func(o *options) {
		o.traceParser = true
	}
}

// WithLogger sets the logger for traces, the bytecode dump and warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Filter is a compiled display filter. It is immutable and safe for
// concurrent use.
type Filter struct {
	source     string
	text       string
	tree       string
	saved      bool
	expr       Expression
	prog       *program
	refs       references
	fields     []registry.FieldID
	warnings   []string
	generation uint64

	stacks sync.Pool
}

type emptyRegistry struct{}

func (emptyRegistry) LookupField(string) (registry.Field, bool) { return registry.Field{}, false }
func (emptyRegistry) Generation() uint64                        { return 0 }

// Compile translates filter text into a Filter. Blank text compiles to a
// filter that matches every packet. Failures are returned as *Error.
func Compile(text string, reg Registry, opts ...Option) (*Filter, error) {
	o := options{optimize: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = xlogger.Discard()
	}
	if reg == nil {
		reg = emptyRegistry{}
	}

	f := &Filter{source: text, text: text, generation: reg.Generation()}

	if o.macros != nil && !o.noExpand {
		expanded, err := macro.Expand(text, o.macros)
		if err != nil {
			return nil, macroError(err)
		}
		f.text = expanded
	}

	if strings.TrimSpace(f.text) == "" {
		return f, nil
	}

	lexer := NewLexer(f.text)
	if o.traceLexer {
		lexer.trace = o.logger
	}
	parser := NewParser(lexer)
	if o.traceParser {
		parser.trace = o.logger
	}

	expr, err := parser.Parse()
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return f, nil
	}

	c := &checker{reg: reg}
	if expr, err = c.checkLogical(expr); err != nil {
		return nil, err
	}

	if o.optimize {
		opt := &optimizer{warn: c.warn}
		expr = opt.optimize(expr)
	}

	f.expr = expr
	f.warnings = c.warnings
	f.refs = collectReferences(expr)
	f.fields = f.refs.sortedFields()

	if o.saveTree {
		f.tree, f.saved = dumpTree(expr), true
	}

	f.prog = newGenerator().generate(expr)
	f.prog.checkReferences(f.refs.fields)

	depth := f.prog.maxStack
	f.stacks.New = func() any {
		stack := make([][]ftype.Value, 0, depth)
		return &stack
	}

	logger := o.logger.With(slog.String("filter", f.text))
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		logger.Debug("filter compiled", slog.String("bytecode", f.DumpString(DumpShowType|DumpReferences)))
	}
	for _, w := range f.warnings {
		logger.Warn("filter warning", slog.String("warning", w))
	}

	return f, nil
}

// macroError converts an expansion failure into a located compile error.
func macroError(err error) error {
	var merr *macro.Error
	if errors.As(err, &merr) {
		return newError(ErrMacro, Location{Offset: merr.Offset, Length: merr.Length}, "%s", merr.Msg)
	}
	return newError(ErrMacro, Location{}, "%v", err)
}

// Evaluate runs the filter against a packet's field tree. A nil filter
// never matches; the filter compiled from blank text always does. A nil
// tree behaves as a packet without fields.
func (f *Filter) Evaluate(tree FieldTree) bool {
	if f == nil {
		return false
	}
	if f.prog == nil {
		return f.expr == nil
	}
	if len(f.prog.code) == 0 {
		return false
	}
	if tree == nil {
		tree = emptyTree{}
	}
	return f.run(tree)
}

// InterestingFields returns the fields and protocols the filter reads, in
// ascending ID order.
func (f *Filter) InterestingFields() []registry.FieldID {
	if f == nil {
		return nil
	}
	return slices.Clone(f.fields)
}

// HasInterestingFields reports whether the filter reads any field.
func (f *Filter) HasInterestingFields() bool {
	return f != nil && len(f.fields) > 0
}

// InterestedInField reports whether the filter reads the field.
func (f *Filter) InterestedInField(id registry.FieldID) bool {
	if f == nil {
		return false
	}
	_, ok := f.refs.fields[id]
	return ok
}

// InterestedInProtocol reports whether the filter reads the protocol or
// any of its fields.
func (f *Filter) InterestedInProtocol(id registry.FieldID) bool {
	if f == nil {
		return false
	}
	_, ok := f.refs.protocols[id]
	return ok
}

// Prime tells p which fields the filter reads so dissection can skip the
// rest.
func (f *Filter) Prime(p Primer) {
	if f == nil || len(f.fields) == 0 {
		return
	}
	p.Prime(f.fields...)
}

// Text returns the compiled text, after macro expansion.
func (f *Filter) Text() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Source returns the text as passed to Compile.
func (f *Filter) Source() string {
	if f == nil {
		return ""
	}
	return f.source
}

// SyntaxTree returns the checked syntax tree rendering when compiled with
// WithSaveTree.
func (f *Filter) SyntaxTree() (string, bool) {
	if f == nil {
		return "", false
	}
	return f.tree, f.saved
}

// Warnings returns the compile warnings.
func (f *Filter) Warnings() []string {
	if f == nil {
		return nil
	}
	return slices.Clone(f.warnings)
}

// Generation returns the generation of the registry the filter was
// compiled against.
func (f *Filter) Generation() uint64 {
	if f == nil {
		return 0
	}
	return f.generation
}

// String returns canonical filter text that compiles to an equivalent
// filter.
func (f *Filter) String() string {
	if f == nil || f.expr == nil {
		return ""
	}
	return FormatExpr(f.expr)
}
