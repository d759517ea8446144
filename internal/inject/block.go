package inject

import (
	"regexp"
	"strings"

	"github.com/ajranjith/source-shield/internal/lexical"
)

const (
	bannerTop    = "// ╔════════════════════════════════════════════════════════════╗"
	bannerTitle  = "// ║  SOURCE SHIELD - runtime integrity check (auto-injected)   ║"
	bannerBottom = "// ╚════════════════════════════════════════════════════════════╝"
	// closing is a block comment so code that follows on the same line stays live.
	closing = "/* ═════════════ end of source-shield injection ═════════════ */"
)

var blockPattern = regexp.MustCompile(
	`\r?\n[ \t]*` + regexp.QuoteMeta(bannerTop) +
		`\r?\n[ \t]*` + regexp.QuoteMeta(bannerTitle) +
		`\r?\n[ \t]*` + regexp.QuoteMeta(bannerBottom) +
		`\r?\n[ \t]*SecurityShield\.protect\(this\);?` +
		`\r?\n[ \t]*` + regexp.QuoteMeta(closing))

// callBlock renders the delimited call block. It starts with a line break so
// it can be inserted right after an anchor without touching the anchor line.
func callBlock(d *lexical.Dialect, indent, nl string) string {
	lines := []string{bannerTop, bannerTitle, bannerBottom, d.CallStatement, closing}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(nl)
		b.WriteString(indent)
		b.WriteString(l)
	}
	return b.String()
}

// Strip removes an injected call block and the shield import added next to
// it. Text that was never instrumented comes back unchanged. Copies of the
// import inside comments or string literals are left alone.
func Strip(text string, d *lexical.Dialect) string {
	text = blockPattern.ReplaceAllLiteralString(text, "")
	return stripImport(text, d)
}

func stripImport(text string, d *lexical.Dialect) string {
	stmt := d.ImportStatement
	scan := lexical.Mask(text, d)
	from := 0
	for {
		i := strings.Index(scan[from:], "\n"+stmt)
		if i < 0 {
			return text
		}
		i += from
		end := i + 1 + len(stmt)
		if end < len(text) && text[end] != '\r' && text[end] != '\n' {
			from = i + 1
			continue
		}
		start := i
		if start > 0 && text[start-1] == '\r' {
			start--
		}
		// The package-line anchor adds an empty line before the import.
		if k, ok := blankLineAfterPackage(text, start, d); ok {
			start = k
		}
		return text[:start] + text[end:]
	}
}

// blankLineAfterPackage reports whether text[:at] ends with a package line
// followed by one line break, returning the offset of that line break.
func blankLineAfterPackage(text string, at int, d *lexical.Dialect) (int, bool) {
	if at == 0 || text[at-1] != '\n' {
		return 0, false
	}
	k := at - 1
	if k > 0 && text[k-1] == '\r' {
		k--
	}
	lineStart := strings.LastIndexByte(text[:k], '\n') + 1
	line := text[lineStart:k]
	if loc := d.PackageLine.FindStringIndex(line); loc != nil && loc[0] == 0 && loc[1] == len(line) {
		return k, true
	}
	return 0, false
}
