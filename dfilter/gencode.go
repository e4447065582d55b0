package dfilter

import (
	"fmt"
	"regexp"

	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// Opcode is a VM instruction code.
type Opcode uint8

const (
	OpPush Opcode = iota
	OpFetch
	OpExists
	OpTruthy
	OpCmp
	OpMatch
	OpInSet
	OpInRange
	OpSlice
	OpArith
	OpNeg
	OpCall
	OpNot
	OpXor
	OpJumpIfTrue
	OpJumpIfFalse
	OpPop
	OpReturn
)

var opcodeNames = [...]string{
	OpPush:        "PUSH",
	OpFetch:       "FETCH",
	OpExists:      "EXISTS",
	OpTruthy:      "TRUTHY",
	OpCmp:         "CMP",
	OpMatch:       "MATCH",
	OpInSet:       "IN_SET",
	OpInRange:     "IN_RANGE",
	OpSlice:       "SLICE",
	OpArith:       "ARITH",
	OpNeg:         "NEG",
	OpCall:        "CALL",
	OpNot:         "NOT",
	OpXor:         "XOR",
	OpJumpIfTrue:  "JUMP_IF_TRUE",
	OpJumpIfFalse: "JUMP_IF_FALSE",
	OpPop:         "POP",
	OpReturn:      "RETURN",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", op)
}

// Instruction is one VM instruction. Arg indexes the constant, reference,
// pattern, set, range, slice or function tables, or holds a jump target;
// Aux holds the quantifier of CMP and the argument count of CALL.
type Instruction struct {
	Op  Opcode
	Arg int32
	Aux int32
}

type fieldRef struct {
	Field registry.Field
	Layer int
}

func (r fieldRef) layer() fieldtree.Layer {
	if r.Layer == 0 {
		return fieldtree.AnyLayer
	}
	return fieldtree.LayerN(r.Layer)
}

func (r fieldRef) String() string {
	if r.Layer == 0 {
		return r.Field.Abbrev
	}
	return fmt.Sprintf("%s#%d", r.Field.Abbrev, r.Layer)
}

// program is the generated code with its side tables.
type program struct {
	code       []Instruction
	consts     [][]ftype.Value
	constTypes []ftype.Type
	refs       []fieldRef
	regexes    []*regexp.Regexp
	sets       []*memberSet
	ranges     []valueRange
	slices     [][]SliceRange
	funcs      []*function
	maxStack   int
}

type constKey struct {
	typ  ftype.Type
	kind ftype.Kind
	text string
}

type generator struct {
	prog   program
	depth  int
	consts map[constKey]int32
	refs   map[fieldRef]int32
}

func newGenerator() *generator {
	return &generator{
		consts: make(map[constKey]int32),
		refs:   make(map[fieldRef]int32),
	}
}

// stackEffect is the change in stack depth caused by an instruction.
func stackEffect(in Instruction) int {
	switch in.Op {
	case OpPush, OpFetch, OpExists:
		return 1
	case OpCmp, OpArith, OpXor, OpPop, OpReturn:
		return -1
	case OpCall:
		return 1 - int(in.Aux)
	default:
		return 0
	}
}

func (g *generator) emit(op Opcode, arg, aux int32) int {
	in := Instruction{Op: op, Arg: arg, Aux: aux}
	g.prog.code = append(g.prog.code, in)

	g.depth += stackEffect(in)
	g.prog.maxStack = max(g.prog.maxStack, g.depth)

	return len(g.prog.code) - 1
}

// emitJump emits a jump with an unresolved target.
func (g *generator) emitJump(op Opcode) int {
	return g.emit(op, -1, 0)
}

// patchJump points the jump at pos to the next instruction.
func (g *generator) patchJump(pos int) {
	g.prog.code[pos].Arg = int32(len(g.prog.code))
}

func (g *generator) addConst(v ftype.Value, t ftype.Type) int32 {
	key := constKey{typ: t, kind: v.Kind(), text: v.String()}
	if idx, ok := g.consts[key]; ok {
		return idx
	}

	idx := int32(len(g.prog.consts))
	g.prog.consts = append(g.prog.consts, []ftype.Value{v})
	g.prog.constTypes = append(g.prog.constTypes, t)
	g.consts[key] = idx
	return idx
}

func (g *generator) addRef(f *FieldExpr) int32 {
	ref := fieldRef{Field: f.Field, Layer: f.Layer}
	if idx, ok := g.refs[ref]; ok {
		return idx
	}

	idx := int32(len(g.prog.refs))
	g.prog.refs = append(g.prog.refs, ref)
	g.refs[ref] = idx
	return idx
}

// generate lowers a checked expression into a program ending in RETURN.
func (g *generator) generate(e Expression) *program {
	g.gen(e)
	g.emit(OpReturn, 0, 0)

	for pos, in := range g.prog.code {
		if (in.Op == OpJumpIfTrue || in.Op == OpJumpIfFalse) && in.Arg < 0 {
			panic(fmt.Sprintf("dfilter: unpatched jump at %04d", pos))
		}
	}

	return &g.prog
}

func (g *generator) gen(e Expression) {
	switch x := e.(type) {
	case *LiteralExpr:
		g.emit(OpPush, g.addConst(x.Value, x.Type), 0)

	case *FieldExpr:
		g.emit(OpFetch, g.addRef(x), 0)

	case *ExistsExpr:
		g.emit(OpExists, g.addRef(x.Field), 0)

	case *TruthyExpr:
		g.gen(x.Operand)
		g.emit(OpTruthy, 0, 0)

	case *UnaryExpr:
		g.gen(x.Operand)
		if x.Operator == TokenNot {
			g.emit(OpNot, 0, 0)
		} else {
			g.emit(OpNeg, 0, 0)
		}

	case *BinaryExpr:
		g.genBinary(x)

	case *SliceExpr:
		g.gen(x.Operand)
		idx := int32(len(g.prog.slices))
		g.prog.slices = append(g.prog.slices, x.Ranges)
		g.emit(OpSlice, idx, 0)

	case *CallExpr:
		for _, arg := range x.Args {
			g.gen(arg)
		}
		idx := int32(len(g.prog.funcs))
		g.prog.funcs = append(g.prog.funcs, x.fn)
		g.emit(OpCall, idx, int32(len(x.Args)))

	default:
		panic(fmt.Sprintf("dfilter: cannot generate code for %T", e))
	}
}

func (g *generator) genBinary(b *BinaryExpr) {
	switch op := b.Operator; {
	case op == TokenAnd || op == TokenOr:
		g.gen(b.Left)
		jumpOp := OpJumpIfFalse
		if op == TokenOr {
			jumpOp = OpJumpIfTrue
		}
		jump := g.emitJump(jumpOp)
		g.emit(OpPop, 0, 0)
		g.gen(b.Right)
		g.patchJump(jump)

	case op == TokenXor:
		g.gen(b.Left)
		g.gen(b.Right)
		g.emit(OpXor, 0, 0)

	case isArithmetic(op):
		g.gen(b.Left)
		g.gen(b.Right)
		g.emit(OpArith, int32(arithOp(op)), 0)

	case op == TokenMatches:
		g.gen(b.Left)
		idx := int32(len(g.prog.regexes))
		g.prog.regexes = append(g.prog.regexes, b.Right.(*LiteralExpr).Regex)
		g.emit(OpMatch, idx, 0)

	case op == TokenIn:
		g.gen(b.Left)
		set := b.Right.(*SetExpr)
		if r, ok := set.Elements[0].(*RangeExpr); ok && len(set.Elements) == 1 {
			idx := int32(len(g.prog.ranges))
			g.prog.ranges = append(g.prog.ranges, valueRange{
				low:  r.Low.(*LiteralExpr).Value,
				high: r.High.(*LiteralExpr).Value,
			})
			g.emit(OpInRange, idx, 0)
			return
		}
		idx := int32(len(g.prog.sets))
		g.prog.sets = append(g.prog.sets, newMemberSet(set))
		g.emit(OpInSet, idx, 0)

	default:
		cmp, quant := comparisonFor(op)
		g.gen(b.Left)
		g.gen(b.Right)
		g.emit(OpCmp, int32(cmp), int32(quant))
	}
}

// checkReferences verifies that every field the program reads is part of
// the interesting set.
func (p *program) checkReferences(interesting map[registry.FieldID]struct{}) {
	for pos, in := range p.code {
		if in.Op != OpFetch && in.Op != OpExists {
			continue
		}
		ref := p.refs[in.Arg]
		if _, ok := interesting[ref.Field.ID]; !ok {
			panic(fmt.Sprintf("dfilter: %s at %04d reads %s outside the interesting fields", in.Op, pos, ref))
		}
	}
}
