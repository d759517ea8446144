// Package lexical holds the pattern table used to find declarations and
// injection anchors in Android source files without parsing them.
//
// Every regular expression the locator and the injection engine rely on lives
// in a Dialect, so a new source language is added by adding a table entry.
package lexical

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Marker is the substring whose presence means a file is already instrumented.
const Marker = "SecurityShield.protect"

// ShieldPackage is the package the detection engine template is installed into.
const ShieldPackage = "com.security.shield"

// Dialect is the named pattern table for one source language.
type Dialect struct {
	Name       string
	Extensions []string

	// ImportStatement and CallStatement are inserted verbatim.
	ImportStatement string
	CallStatement   string
	// TemplateFile is the detection engine resource for this dialect.
	TemplateFile string
	// NestedBlockComments is true when /* */ comments nest (Kotlin).
	NestedBlockComments bool
	// RawStrings is true when """ delimits raw string literals (Kotlin).
	RawStrings bool

	classDecl    string
	ImportLine   *regexp.Regexp
	PackageLine  *regexp.Regexp
	EntryMethod  *regexp.Regexp
	// SuperForward matches the forwarding call up to and including its
	// opening parenthesis. The argument list is closed by a balanced scan.
	SuperForward *regexp.Regexp
	HasImport    *regexp.Regexp
}

// ClassDecl returns the declaration pattern for the class named name.
func (d *Dialect) ClassDecl(name string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(d.classDecl, regexp.QuoteMeta(name)))
}

// Matches reports whether path has one of the dialect's extensions.
func (d *Dialect) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range d.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

var Kotlin = &Dialect{
	Name:                "kotlin",
	Extensions:          []string{".kt"},
	ImportStatement:     "import " + ShieldPackage + ".SecurityShield",
	CallStatement:       "SecurityShield.protect(this)",
	TemplateFile:        "SecurityShield.kt",
	NestedBlockComments: true,
	RawStrings:          true,

	classDecl:    `\bclass\s+%s\s*[:(]`,
	ImportLine:   regexp.MustCompile(`(?m)^[ \t]*import[ \t]+[^\r\n]*`),
	PackageLine:  regexp.MustCompile(`(?m)^[ \t]*package[ \t]+[^\r\n]*`),
	EntryMethod:  regexp.MustCompile(`\boverride\s+fun\s+onCreate\s*\([^)]*\)\s*(?::\s*Unit\s*)?\{`),
	SuperForward: regexp.MustCompile(`\bsuper\s*\.\s*onCreate\s*\(`),
	HasImport:    regexp.MustCompile(`(?m)^[ \t]*import[ \t]+com\.security\.shield\.SecurityShield[ \t]*;?[ \t]*\r?$`),
}

var Java = &Dialect{
	Name:            "java",
	Extensions:      []string{".java"},
	ImportStatement: "import " + ShieldPackage + ".SecurityShield;",
	CallStatement:   "SecurityShield.protect(this);",
	TemplateFile:    "SecurityShield.java",

	classDecl:    `\bclass\s+%s\b\s*(?:extends\b|implements\b|\{)`,
	ImportLine:   regexp.MustCompile(`(?m)^[ \t]*import[ \t]+[^\r\n]*`),
	PackageLine:  regexp.MustCompile(`(?m)^[ \t]*package[ \t]+[^\r\n]*`),
	EntryMethod:  regexp.MustCompile(`(?:@Override\s+)?(?:(?:public|protected)\s+)?(?:final\s+)?\bvoid\s+onCreate\s*\([^)]*\)\s*(?:throws\s+[\w.,\s]+?)?\{`),
	SuperForward: regexp.MustCompile(`\bsuper\s*\.\s*onCreate\s*\(`),
	HasImport:    regexp.MustCompile(`(?m)^[ \t]*import[ \t]+com\.security\.shield\.SecurityShield[ \t]*;[ \t]*\r?$`),
}

var registry = map[string]*Dialect{
	Kotlin.Name: Kotlin,
	Java.Name:   Java,
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (*Dialect, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown source dialect %q", name)
	}
	return d, nil
}

// LookupAll resolves names in order, dropping duplicates.
func LookupAll(names []string) ([]*Dialect, error) {
	out := make([]*Dialect, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		d, err := Lookup(n)
		if err != nil {
			return nil, err
		}
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		out = append(out, d)
	}
	return out, nil
}

// ForPath returns the first dialect in dialects that claims path, or nil.
func ForPath(dialects []*Dialect, path string) *Dialect {
	for _, d := range dialects {
		if d.Matches(path) {
			return d
		}
	}
	return nil
}
