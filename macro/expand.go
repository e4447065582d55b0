package macro

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxDepth bounds nested expansion.
const MaxDepth = 32

type span struct {
	offset int
	length int
}

type expander struct {
	src      Source
	visiting map[string]struct{}
}

// Expand replaces every macro invocation in text. Invocations inside quoted
// strings are left alone. Arguments are expanded before they are substituted
// and the substituted body is expanded again. A nil src holds no macros.
func Expand(text string, src Source) (string, error) {
	if !strings.Contains(text, "$") {
		return text, nil
	}
	if src == nil {
		src = &Table{}
	}

	e := &expander{
		src:      src,
		visiting: make(map[string]struct{}),
	}
	return e.expand(text, 0, nil)
}

func (e *expander) expand(text string, depth int, origin *span) (string, error) {
	var out strings.Builder
	out.Grow(len(text))

	for i := 0; i < len(text); {
		c := text[i]

		switch {
		case c == '"' || c == 'r' && i+1 < len(text) && text[i+1] == '"' && (i == 0 || !isNameChar(text[i-1])):
			end := skipString(text, i)
			out.WriteString(text[i:end])
			i = end

		case c == '$' && i+1 < len(text) && text[i+1] == '{':
			end, ok := matchClose(text, i+2, '{', '}')
			if !ok {
				return "", e.fail(e.at(origin, i, len(text)-i), "unterminated macro invocation")
			}

			name, argText, hasArgs := strings.Cut(text[i+2:end], ":")
			var args []string
			if hasArgs {
				args = splitTop(argText, ';')
			}

			res, err := e.invoke(strings.TrimSpace(name), args, depth, e.at(origin, i, end+1-i))
			if err != nil {
				return "", err
			}
			out.WriteString(res)
			i = end + 1

		case c == '$' && i+1 < len(text) && isNameStart(text[i+1]):
			j := i + 1
			for j < len(text) && isNameChar(text[j]) {
				j++
			}

			if j >= len(text) || text[j] != '(' {
				out.WriteString(text[i:j])
				i = j
				continue
			}

			end, ok := matchClose(text, j+1, '(', ')')
			if !ok {
				return "", e.fail(e.at(origin, i, len(text)-i), "unterminated macro invocation")
			}

			var args []string
			if inner := strings.TrimSpace(text[j+1 : end]); inner != "" {
				for _, a := range splitTop(inner, ',') {
					args = append(args, strings.TrimSpace(a))
				}
			}

			res, err := e.invoke(text[i+1:j], args, depth, e.at(origin, i, end+1-i))
			if err != nil {
				return "", err
			}
			out.WriteString(res)
			i = end + 1

		default:
			out.WriteByte(c)
			i++
		}
	}

	return out.String(), nil
}

func (e *expander) invoke(name string, args []string, depth int, loc span) (string, error) {
	if depth >= MaxDepth {
		return "", e.fail(loc, fmt.Sprintf("macro expansion exceeds the maximum depth of %d", MaxDepth))
	}

	m, ok := e.src.Lookup(name)
	if !ok {
		return "", e.fail(loc, fmt.Sprintf("macro %q does not exist", name))
	}

	if want := m.Arity(); len(args) != want {
		return "", e.fail(loc, fmt.Sprintf("macro %q expects %d arguments, got %d", name, want, len(args)))
	}

	if _, busy := e.visiting[name]; busy {
		return "", e.fail(loc, fmt.Sprintf("macro %q expands into itself", name))
	}

	expanded := make([]string, len(args))
	for i, a := range args {
		v, err := e.expand(a, depth+1, &loc)
		if err != nil {
			return "", err
		}
		expanded[i] = v
	}

	e.visiting[name] = struct{}{}
	defer delete(e.visiting, name)

	return e.expand(substitute(m, expanded), depth+1, &loc)
}

func (e *expander) at(origin *span, offset, length int) span {
	if origin != nil {
		return *origin
	}
	return span{offset: offset, length: length}
}

func (e *expander) fail(loc span, msg string) error {
	return &Error{Msg: msg, Offset: loc.offset, Length: loc.length}
}

// substitute fills the argument placeholders of the macro body.
func substitute(m Macro, args []string) string {
	body := m.Body

	var out strings.Builder
	out.Grow(len(body))

	for i := 0; i < len(body); {
		if body[i] != '$' {
			out.WriteByte(body[i])
			i++
			continue
		}

		if i+1 < len(body) && body[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}

		j := i + 1
		for j < len(body) && body[j] >= '0' && body[j] <= '9' {
			j++
		}
		if j > i+1 {
			n, err := strconv.Atoi(body[i+1 : j])
			if err == nil && n >= 1 && n <= len(args) {
				out.WriteString(args[n-1])
			} else {
				out.WriteString(body[i:j])
			}
			i = j
			continue
		}

		if j < len(body) && isNameStart(body[j]) {
			k := j
			for k < len(body) && isNameChar(body[k]) {
				k++
			}
			if idx := paramIndex(m.Params, body[j:k]); idx >= 0 {
				out.WriteString(args[idx])
				i = k
				continue
			}
		}

		out.WriteByte('$')
		i++
	}

	return out.String()
}

func paramIndex(params []string, name string) int {
	for i, p := range params {
		if p == name {
			return i
		}
	}
	return -1
}

// skipString returns the offset just past the string literal starting at i.
// Unterminated strings run to the end of the text.
func skipString(text string, i int) int {
	raw := text[i] == 'r'
	if raw {
		i++
	}

	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			if !raw {
				j++
			}
		case '"':
			return j + 1
		}
	}

	return len(text)
}

// matchClose finds the bracket closing the one opened just before start.
func matchClose(text string, start int, open, close byte) (int, bool) {
	depth := 1
	for j := start; j < len(text); j++ {
		switch text[j] {
		case '"':
			j = skipString(text, j) - 1
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

// splitTop splits s on sep, ignoring separators nested in brackets or strings.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, last := 0, 0

	for j := 0; j < len(s); j++ {
		switch c := s[j]; c {
		case '"':
			j = skipString(s, j) - 1
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		default:
			if c == sep && depth == 0 {
				parts = append(parts, s[last:j])
				last = j + 1
			}
		}
	}

	return append(parts, s[last:])
}

func isNameStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c >= '0' && c <= '9'
}
