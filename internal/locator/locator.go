// Package locator finds the source file that declares a given class.
package locator

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/lexical"
)

var (
	ErrSourceRootNotFound   = errors.New("source root not found")
	ErrDefiningFileNotFound = errors.New("defining file not found")
)

// Options controls a search. Dialects defaults to Kotlin only.
type Options struct {
	Dialects []*lexical.Dialect
	// Mask blanks comments and string literals before matching.
	Mask bool
	// SkipDirs are directory base names that are never entered.
	SkipDirs []string
	Log      *zap.Logger
}

// Match is the first file whose text declares the class.
type Match struct {
	Path    string
	Dialect *lexical.Dialect
	// Scanned is the number of candidate files read, including the match.
	Scanned int
}

type search struct {
	name     string
	opts     Options
	patterns map[*lexical.Dialect]*regexp.Regexp
	skip     map[string]bool
	scanned  int
}

// LocateDefiningFile walks sourceRoot depth first in directory-listing order
// and returns the first file that declares name. Listing order comes from
// os.ReadDir, which sorts by file name; which file wins when several declare
// the same class is not otherwise defined.
func LocateDefiningFile(sourceRoot, name string, opts Options) (Match, error) {
	if len(opts.Dialects) == 0 {
		opts.Dialects = []*lexical.Dialect{lexical.Kotlin}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	info, err := os.Stat(sourceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return Match{}, errors.Wrapf(ErrSourceRootNotFound, "%s", sourceRoot)
		}
		return Match{}, errors.Wrapf(err, "stat source root %s", sourceRoot)
	}
	if !info.IsDir() {
		return Match{}, errors.Wrapf(ErrSourceRootNotFound, "%s is not a directory", sourceRoot)
	}

	s := &search{
		name:     name,
		opts:     opts,
		patterns: make(map[*lexical.Dialect]*regexp.Regexp, len(opts.Dialects)),
		skip:     make(map[string]bool, len(opts.SkipDirs)),
	}
	for _, d := range opts.Dialects {
		s.patterns[d] = d.ClassDecl(name)
	}
	for _, dir := range opts.SkipDirs {
		s.skip[dir] = true
	}

	m, found, err := s.walk(sourceRoot)
	if err != nil {
		return Match{}, err
	}
	if !found {
		return Match{}, errors.Wrapf(ErrDefiningFileNotFound, "class %s under %s (%d files scanned)", name, sourceRoot, s.scanned)
	}
	m.Scanned = s.scanned
	return m, nil
}

func (s *search) walk(dir string) (Match, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Match{}, false, errors.Wrapf(err, "read dir %s", dir)
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if s.skip[entry.Name()] || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			m, found, err := s.walk(path)
			if err != nil || found {
				return m, found, err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		d := lexical.ForPath(s.opts.Dialects, path)
		if d == nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Match{}, false, errors.Wrapf(err, "read %s", path)
		}
		s.scanned++
		text := string(data)
		if s.opts.Mask {
			text = lexical.Mask(text, d)
		}
		if s.patterns[d].MatchString(text) {
			s.opts.Log.Debug("defining file found", zap.String("class", s.name), zap.String("path", path))
			return Match{Path: path, Dialect: d}, true, nil
		}
	}
	return Match{}, false, nil
}
