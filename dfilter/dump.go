package dfilter

import (
	"fmt"
	"io"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// DumpFlags select optional sections of a bytecode dump.
type DumpFlags uint8

const (
	// DumpReferences appends the fields and protocols the filter reads.
	DumpReferences DumpFlags = 1 << iota

	// DumpShowType annotates constants and field reads with their type.
	DumpShowType
)

// Dump writes a human-readable listing of the compiled program to w.
func (f *Filter) Dump(w io.Writer, flags DumpFlags) error {
	_, err := io.WriteString(w, f.DumpString(flags))
	return err
}

// DumpString returns the listing written by Dump.
func (f *Filter) DumpString(flags DumpFlags) string {
	var sb strings.Builder

	if f == nil || f.prog == nil {
		sb.WriteString("Filter matches all packets.\n")
		return sb.String()
	}

	sb.WriteString("Instructions:\n")
	for pc, in := range f.prog.code {
		operand := f.prog.operandText(in, flags)
		if operand == "" {
			fmt.Fprintf(&sb, " %04d %s\n", pc, in.Op)
			continue
		}
		fmt.Fprintf(&sb, " %04d %-13s %s\n", pc, in.Op, operand)
	}

	if flags&DumpReferences != 0 && len(f.prog.refs) > 0 {
		sb.WriteString("\nReferences:\n")
		for _, ref := range f.prog.refs {
			fmt.Fprintf(&sb, "  %s (%s)\n", ref, ref.Field.Type)
		}
	}

	return sb.String()
}

func (p *program) operandText(in Instruction, flags DumpFlags) string {
	showType := flags&DumpShowType != 0

	switch in.Op {
	case OpPush:
		text := valueText(p.consts[in.Arg][0])
		if showType {
			text += " <" + p.constTypes[in.Arg].String() + ">"
		}
		return text

	case OpFetch, OpExists:
		ref := p.refs[in.Arg]
		text := ref.String()
		if showType {
			text += " <" + ref.Field.Type.String() + ">"
		}
		return text

	case OpCmp:
		return quantifier(in.Aux).String() + "_" + cmpOp(in.Arg).String()

	case OpMatch:
		return quoteString(p.regexes[in.Arg].String())

	case OpInSet:
		return p.sets[in.Arg].text

	case OpInRange:
		return p.ranges[in.Arg].String()

	case OpSlice:
		ranges := make([]string, len(p.slices[in.Arg]))
		for i, r := range p.slices[in.Arg] {
			ranges[i] = r.String()
		}
		return "[" + strings.Join(ranges, ",") + "]"

	case OpArith:
		return ftype.ArithOp(in.Arg).String()

	case OpCall:
		return fmt.Sprintf("%s/%d", p.funcs[in.Arg].name, in.Aux)

	case OpJumpIfTrue, OpJumpIfFalse:
		return fmt.Sprintf("%04d", in.Arg)
	}

	return ""
}
