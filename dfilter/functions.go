package dfilter

import (
	"maps"
	"slices"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// function is a built-in filter function. check validates the already
// typed arguments and returns the result type; eval maps argument value
// lists to the result value list.
type function struct {
	name    string
	minArgs int
	maxArgs int
	check   func(call *CallExpr) (ftype.Type, error)
	eval    func(args [][]ftype.Value) []ftype.Value
}

var functions map[string]*function

func init() {
	functions = make(map[string]*function)
	for _, fn := range []*function{
		{name: "len", minArgs: 1, maxArgs: 1, check: checkLen, eval: evalLen},
		{name: "count", minArgs: 1, maxArgs: 1, check: checkCount, eval: evalCount},
		{name: "lower", minArgs: 1, maxArgs: 1, check: checkStringArg, eval: mapStrings(strings.ToLower)},
		{name: "upper", minArgs: 1, maxArgs: 1, check: checkStringArg, eval: mapStrings(strings.ToUpper)},
		{name: "string", minArgs: 1, maxArgs: 1, check: checkToString, eval: evalToString},
		{name: "abs", minArgs: 1, maxArgs: 1, check: checkAbs, eval: evalAbs},
		{name: "min", minArgs: 1, maxArgs: -1, check: checkMinMax, eval: extreme(-1)},
		{name: "max", minArgs: 1, maxArgs: -1, check: checkMinMax, eval: extreme(1)},
	} {
		functions[fn.name] = fn
	}
}

// FunctionNames lists the built-in functions.
func FunctionNames() []string {
	return slices.Sorted(maps.Keys(functions))
}

func argMismatch(call *CallExpr, i int, want string) error {
	return newError(ErrTypeMismatch, call.Args[i].Pos(), "%s() expects %s, got %s", call.Name, want, typeOf(call.Args[i]))
}

func checkLen(call *CallExpr) (ftype.Type, error) {
	if !typeOf(call.Args[0]).Sliceable() {
		return ftype.TypeNone, argMismatch(call, 0, "a bytes, string, address or protocol argument")
	}
	return ftype.TypeUint32, nil
}

func evalLen(args [][]ftype.Value) []ftype.Value {
	out := make([]ftype.Value, 0, len(args[0]))
	for _, v := range args[0] {
		if raw, ok := ftype.RawBytes(v); ok {
			out = append(out, ftype.UintValue(len(raw)))
		}
	}
	return out
}

func checkCount(call *CallExpr) (ftype.Type, error) {
	if _, ok := call.Args[0].(*FieldExpr); !ok {
		return ftype.TypeNone, argMismatch(call, 0, "a field")
	}
	return ftype.TypeUint32, nil
}

func evalCount(args [][]ftype.Value) []ftype.Value {
	return []ftype.Value{ftype.UintValue(len(args[0]))}
}

func checkStringArg(call *CallExpr) (ftype.Type, error) {
	if typeOf(call.Args[0]).Class() != ftype.ClassString {
		return ftype.TypeNone, argMismatch(call, 0, "a string")
	}
	return ftype.TypeString, nil
}

func mapStrings(fn func(string) string) func([][]ftype.Value) []ftype.Value {
	return func(args [][]ftype.Value) []ftype.Value {
		out := make([]ftype.Value, 0, len(args[0]))
		for _, v := range args[0] {
			if s, ok := v.(ftype.StringValue); ok {
				out = append(out, ftype.StringValue(fn(string(s))))
			}
		}
		return out
	}
}

func checkToString(call *CallExpr) (ftype.Type, error) {
	if typeOf(call.Args[0]) == ftype.TypeProtocol {
		return ftype.TypeNone, argMismatch(call, 0, "a field value")
	}
	return ftype.TypeString, nil
}

func evalToString(args [][]ftype.Value) []ftype.Value {
	out := make([]ftype.Value, len(args[0]))
	for i, v := range args[0] {
		out[i] = ftype.StringValue(v.String())
	}
	return out
}

func checkAbs(call *CallExpr) (ftype.Type, error) {
	t := typeOf(call.Args[0])
	if !t.IsNumeric() {
		return ftype.TypeNone, argMismatch(call, 0, "a number")
	}
	return t, nil
}

func evalAbs(args [][]ftype.Value) []ftype.Value {
	out := make([]ftype.Value, 0, len(args[0]))
	for _, v := range args[0] {
		if a, ok := ftype.Abs(v); ok {
			out = append(out, a)
		}
	}
	return out
}

// checkMinMax requires all arguments to be numbers or all to be strings.
func checkMinMax(call *CallExpr) (ftype.Type, error) {
	first := typeOf(call.Args[0])
	result := first

	switch {
	case first.IsNumeric():
		for i, arg := range call.Args[1:] {
			t := typeOf(arg)
			if !t.IsNumeric() {
				return ftype.TypeNone, argMismatch(call, i+1, "a number")
			}
			if t.Class() == ftype.ClassFloat {
				result = ftype.TypeFloat
			} else if t != result && result != ftype.TypeFloat {
				result = ftype.TypeInt64
			}
		}
	case first.Class() == ftype.ClassString:
		for i, arg := range call.Args[1:] {
			if typeOf(arg).Class() != ftype.ClassString {
				return ftype.TypeNone, argMismatch(call, i+1, "a string")
			}
		}
	default:
		return ftype.TypeNone, argMismatch(call, 0, "a number or a string")
	}

	return result, nil
}

// extreme returns an evaluator picking the smallest (sign -1) or largest
// (sign 1) value across all arguments.
func extreme(sign int) func([][]ftype.Value) []ftype.Value {
	return func(args [][]ftype.Value) []ftype.Value {
		var best ftype.Value
		for _, values := range args {
			for _, v := range values {
				if best == nil {
					best = v
					continue
				}
				if c, ok := ftype.Compare(v, best); ok && c*sign > 0 {
					best = v
				}
			}
		}
		if best == nil {
			return nil
		}
		return []ftype.Value{best}
	}
}
