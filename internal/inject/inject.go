// Package inject adds the shield import and the delimited protection call to
// the source file that defines the entry activity.
//
// A mutation is planned on the in-memory text first and written only after
// it has been checked to consist of exactly the planned insertions. Presence
// of lexical.Marker anywhere in the file means the file is already
// instrumented and nothing is written.
package inject

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/logger"
	"github.com/ajranjith/source-shield/internal/support"
)

var (
	ErrNoInjectionAnchor   = errors.New("no import or package line to anchor the shield import")
	ErrEntryMethodNotFound = errors.New("entry method onCreate not found")
	ErrNonStructuralChange = errors.New("mutation is not limited to the planned insertions")
	ErrFileChanged         = errors.New("file changed since the injection was planned")
)

type Outcome int

const (
	Applied Outcome = iota + 1
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Anchor names the landmark an insertion was positioned against.
type Anchor string

const (
	AnchorImportPresent Anchor = "import-present"
	AnchorLastImport    Anchor = "after-last-import"
	AnchorPackage       Anchor = "after-package"
	AnchorSuperCall     Anchor = "after-super-call"
	AnchorMethodBrace   Anchor = "after-method-brace"
)

const (
	KindImport = "import"
	KindCall   = "call"
)

// Insertion is text added at Offset of the original text.
type Insertion struct {
	Offset int
	Text   string
	Kind   string
}

// Plan is a computed mutation of one source file.
type Plan struct {
	Path     string
	Dialect  *lexical.Dialect
	Original string
	Mutated  string
	// Skipped is set when the file already carries the marker.
	Skipped      bool
	Insertions   []Insertion
	ImportAnchor Anchor
	CallAnchor   Anchor
	// CallLine is the 1-based line of the protection call in Mutated.
	CallLine int
}

type Result struct {
	Outcome      Outcome
	Path         string
	ImportAnchor Anchor
	CallAnchor   Anchor
	CallLine     int
	SHA256Before string
	SHA256After  string
}

// Engine plans and applies injections. Mask enables comment and string
// masking before anchors are searched.
type Engine struct {
	Mask bool
	Log  *zap.Logger
}

func NewEngine(log *zap.Logger, mask bool) *Engine {
	return &Engine{Mask: mask, Log: logger.OrNop(log)}
}

// InjectProtection plans and applies the injection for the file at path.
func (e *Engine) InjectProtection(path string, d *lexical.Dialect) (Result, error) {
	p, err := e.Plan(path, d)
	if err != nil {
		return Result{}, err
	}
	return e.Apply(p)
}

// Plan reads path and computes its mutation without writing anything.
func (e *Engine) Plan(path string, d *lexical.Dialect) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	p, err := e.PlanText(string(data), d)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	p.Path = path
	return p, nil
}

// PlanText computes the mutation of text.
func (e *Engine) PlanText(text string, d *lexical.Dialect) (*Plan, error) {
	p := &Plan{Dialect: d, Original: text, Mutated: text}
	if strings.Contains(text, lexical.Marker) {
		p.Skipped = true
		return p, nil
	}

	scan := text
	if e.Mask {
		scan = lexical.Mask(text, d)
	}

	imp, importAnchor, err := planImport(text, scan, d)
	if err != nil {
		return nil, err
	}
	call, callAnchor, err := planCall(text, scan, d)
	if err != nil {
		return nil, err
	}

	if imp != nil {
		p.Insertions = append(p.Insertions, *imp)
	}
	p.Insertions = append(p.Insertions, *call)
	sort.SliceStable(p.Insertions, func(i, j int) bool {
		return p.Insertions[i].Offset < p.Insertions[j].Offset
	})
	p.ImportAnchor = importAnchor
	p.CallAnchor = callAnchor
	p.Mutated = splice(text, p.Insertions)
	p.CallLine = strings.Count(p.Mutated[:strings.Index(p.Mutated, d.CallStatement)], "\n") + 1
	return p, nil
}

// Apply writes a verified plan. The file must still hold the planned text.
func (e *Engine) Apply(p *Plan) (Result, error) {
	res := Result{
		Path:         p.Path,
		ImportAnchor: p.ImportAnchor,
		CallAnchor:   p.CallAnchor,
		CallLine:     p.CallLine,
		SHA256Before: support.HashBytes([]byte(p.Original)),
	}
	if p.Skipped {
		res.Outcome = Skipped
		res.SHA256After = res.SHA256Before
		e.Log.Info("marker present, file left as is", zap.String("path", p.Path))
		return res, nil
	}
	if err := Verify(p); err != nil {
		return Result{}, err
	}

	current, err := support.HashFile(p.Path)
	if err != nil {
		return Result{}, errors.Wrapf(err, "hash %s", p.Path)
	}
	if current != res.SHA256Before {
		return Result{}, errors.Wrapf(ErrFileChanged, "%s", p.Path)
	}
	if err := support.WriteFileAtomic(p.Path, []byte(p.Mutated)); err != nil {
		return Result{}, errors.Wrapf(err, "write %s", p.Path)
	}

	res.Outcome = Applied
	res.SHA256After = support.HashBytes([]byte(p.Mutated))
	e.Log.Info("protection injected",
		zap.String("path", p.Path),
		zap.String("import_anchor", string(p.ImportAnchor)),
		zap.String("call_anchor", string(p.CallAnchor)),
		zap.Int("line", p.CallLine))
	return res, nil
}

// Verify checks that Mutated is Original plus exactly the planned insertions,
// that the marker occurs once, and that Strip restores the original.
func Verify(p *Plan) error {
	if p.Skipped {
		if p.Mutated != p.Original {
			return errors.WithStack(ErrNonStructuralChange)
		}
		return nil
	}

	var rest strings.Builder
	shift, prev := 0, 0
	for _, ins := range p.Insertions {
		at := ins.Offset + shift
		if at < prev || at+len(ins.Text) > len(p.Mutated) || p.Mutated[at:at+len(ins.Text)] != ins.Text {
			return errors.Wrapf(ErrNonStructuralChange, "%s insertion at offset %d", ins.Kind, ins.Offset)
		}
		rest.WriteString(p.Mutated[prev:at])
		prev = at + len(ins.Text)
		shift += len(ins.Text)
	}
	rest.WriteString(p.Mutated[prev:])
	if rest.String() != p.Original {
		return errors.Wrap(ErrNonStructuralChange, "text outside the insertions differs")
	}
	if n := strings.Count(p.Mutated, lexical.Marker); n != 1 {
		return errors.Wrapf(ErrNonStructuralChange, "marker occurs %d times", n)
	}
	if p.ImportAnchor != AnchorImportPresent && Strip(p.Mutated, p.Dialect) != p.Original {
		return errors.Wrap(ErrNonStructuralChange, "removing the injection does not restore the file")
	}
	return nil
}

func planImport(text, scan string, d *lexical.Dialect) (*Insertion, Anchor, error) {
	if d.HasImport.MatchString(scan) {
		return nil, AnchorImportPresent, nil
	}
	if locs := d.ImportLine.FindAllStringIndex(scan, -1); len(locs) > 0 {
		end := locs[len(locs)-1][1]
		return &Insertion{Offset: end, Text: lineEnding(text, end) + d.ImportStatement, Kind: KindImport}, AnchorLastImport, nil
	}
	if loc := d.PackageLine.FindStringIndex(scan); loc != nil {
		nl := lineEnding(text, loc[1])
		return &Insertion{Offset: loc[1], Text: nl + nl + d.ImportStatement, Kind: KindImport}, AnchorPackage, nil
	}
	return nil, "", errors.WithStack(ErrNoInjectionAnchor)
}

// planCall places the block after the super.onCreate forwarding call inside
// the entry method, or right after the method's opening brace.
func planCall(text, scan string, d *lexical.Dialect) (*Insertion, Anchor, error) {
	loc := d.EntryMethod.FindStringIndex(scan)
	if loc == nil {
		return nil, "", errors.WithStack(ErrEntryMethodNotFound)
	}
	open := loc[1] - 1
	end := matchingPair(scan, open, '{', '}')

	if s := d.SuperForward.FindStringIndex(scan[open+1 : end]); s != nil {
		start := open + 1 + s[0]
		if rparen := matchingPair(scan, open+s[1], '(', ')'); rparen < end {
			at := statementEnd(scan, rparen+1)
			indent := lineIndent(text, start)
			return &Insertion{Offset: at, Text: callBlock(d, indent, lineEnding(text, at)), Kind: KindCall}, AnchorSuperCall, nil
		}
	}
	indent := bodyIndent(text, open, end)
	return &Insertion{Offset: open + 1, Text: callBlock(d, indent, lineEnding(text, open+1)), Kind: KindCall}, AnchorMethodBrace, nil
}

func splice(text string, insertions []Insertion) string {
	var b strings.Builder
	prev := 0
	for _, ins := range insertions {
		b.WriteString(text[prev:ins.Offset])
		b.WriteString(ins.Text)
		prev = ins.Offset
	}
	b.WriteString(text[prev:])
	return b.String()
}

// matchingPair returns the offset of the r closing the l at open, or
// len(scan) when it is unbalanced. Delimiters in comments and literals are
// only ignored when scan is masked.
func matchingPair(scan string, open int, l, r byte) int {
	depth := 0
	for i := open; i < len(scan); i++ {
		switch scan[i] {
		case l:
			depth++
		case r:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(scan)
}

// statementEnd returns the offset just past a ';' that follows at on the same
// line, or at itself.
func statementEnd(scan string, at int) int {
	i := at
	for i < len(scan) && (scan[i] == ' ' || scan[i] == '\t') {
		i++
	}
	if i < len(scan) && scan[i] == ';' {
		return i + 1
	}
	return at
}

// lineEnding returns the line break that follows at, falling back to the
// file's first line break and then to "\n".
func lineEnding(text string, at int) string {
	rest := text[at:]
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		return "\r\n"
	case strings.HasPrefix(rest, "\n"):
		return "\n"
	}
	if i := strings.IndexByte(text, '\n'); i > 0 && text[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

func lineIndent(text string, pos int) string {
	start := strings.LastIndexByte(text[:pos], '\n') + 1
	end := start
	for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
		end++
	}
	return text[start:end]
}

// bodyIndent is the indentation of the first non-blank line in the method
// body, or the method's own indentation plus one level.
func bodyIndent(text string, open, end int) string {
	body := text[open+1 : end]
	for i := strings.IndexByte(body, '\n'); i >= 0 && i+1 <= len(body); {
		line := body[i+1:]
		if j := strings.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		if strings.TrimSpace(line) != "" {
			return lineIndent(text, open+1+i+1)
		}
		next := strings.IndexByte(body[i+1:], '\n')
		if next < 0 {
			break
		}
		i += 1 + next
	}
	base := lineIndent(text, open)
	if strings.HasPrefix(base, "\t") {
		return base + "\t"
	}
	return base + "    "
}

// Preview describes what Apply would report for p without writing.
func Preview(p *Plan) Result {
	res := Result{
		Outcome:      Applied,
		Path:         p.Path,
		ImportAnchor: p.ImportAnchor,
		CallAnchor:   p.CallAnchor,
		CallLine:     p.CallLine,
		SHA256Before: support.HashBytes([]byte(p.Original)),
		SHA256After:  support.HashBytes([]byte(p.Mutated)),
	}
	if p.Skipped {
		res.Outcome = Skipped
	}
	return res
}
