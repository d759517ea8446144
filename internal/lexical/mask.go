package lexical

// Mask returns src with the contents of comments and string/char literals
// replaced by spaces. Line breaks are kept and the result has the same byte
// length as src, so offsets found in the masked text index src directly.
//
// This is a lexer approximation: Kotlin string templates are masked along
// with the literal that contains them.
func Mask(src string, d *Dialect) string {
	out := []byte(src)
	n := len(src)
	blank := func(from, to int) {
		for i := from; i < to && i < n; i++ {
			if out[i] != '\n' && out[i] != '\r' {
				out[i] = ' '
			}
		}
	}

	i := 0
	for i < n {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			end := i
			for end < n && src[end] != '\n' {
				end++
			}
			blank(i, end)
			i = end
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := skipBlockComment(src, i, d != nil && d.NestedBlockComments)
			blank(i, end)
			i = end
		case c == '"' && d != nil && d.RawStrings && i+2 < n && src[i+1] == '"' && src[i+2] == '"':
			end := skipRawString(src, i)
			blank(i+3, end-3)
			i = end
		case c == '"' || c == '\'':
			end := skipQuoted(src, i, c)
			blank(i+1, end-1)
			i = end
		default:
			i++
		}
	}
	return string(out)
}

func skipBlockComment(src string, start int, nested bool) int {
	depth := 0
	i := start
	for i < len(src) {
		if i+1 < len(src) && src[i] == '/' && src[i+1] == '*' {
			if depth == 0 || nested {
				depth++
			}
			i += 2
			continue
		}
		if i+1 < len(src) && src[i] == '*' && src[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				return i
			}
			continue
		}
		i++
	}
	return len(src)
}

func skipRawString(src string, start int) int {
	i := start + 3
	for i+2 < len(src) {
		if src[i] == '"' && src[i+1] == '"' && src[i+2] == '"' {
			// """" closes on the last three quotes
			for i+3 < len(src) && src[i+3] == '"' {
				i++
			}
			return i + 3
		}
		i++
	}
	return len(src) + 3
}

// skipQuoted returns the offset just past the closing quote. An unterminated
// literal ends at the line break.
func skipQuoted(src string, start int, quote byte) int {
	i := start + 1
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		case '\n':
			return i + 1
		}
		i++
	}
	return len(src) + 1
}
