// Package manifest resolves the launcher activity of an Android project from
// its AndroidManifest.xml.
package manifest

import (
	"encoding/xml"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ActionMain is the intent action that marks the launch entry point.
const ActionMain = "android.intent.action.MAIN"

var (
	ErrManifestNotFound     = errors.New("manifest not found")
	ErrNoActivitiesDeclared = errors.New("no activities declared in manifest")
	ErrNoMainEntryPoint     = errors.New("no activity declares the MAIN intent action")
)

// Document is the subset of AndroidManifest.xml the resolver reads.
type Document struct {
	XMLName     xml.Name    `xml:"manifest"`
	Package     string      `xml:"package,attr"`
	Application Application `xml:"application"`
}

type Application struct {
	Activities []Activity `xml:"activity"`
}

// Activity is one <activity> declaration. Name is the android:name value,
// either fully qualified or relative (".MainActivity").
type Activity struct {
	Name          string         `xml:"name,attr"`
	IntentFilters []IntentFilter `xml:"intent-filter"`
}

type IntentFilter struct {
	Actions    []Named `xml:"action"`
	Categories []Named `xml:"category"`
}

type Named struct {
	Name string `xml:"name,attr"`
}

// HasAction reports whether the filter lists action.
func (f IntentFilter) HasAction(action string) bool {
	for _, a := range f.Actions {
		if strings.TrimSpace(a.Name) == action {
			return true
		}
	}
	return false
}

// EntryPoint is the resolved launcher activity.
type EntryPoint struct {
	QualifiedName string
	SimpleName    string
	// ActivityCount is the number of activities the manifest declares.
	ActivityCount int
}

// Parse reads and decodes the manifest at path.
func Parse(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrManifestNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	return &doc, nil
}

// ResolveEntryPoint parses the manifest at path and returns its launcher
// activity. log may be nil.
func ResolveEntryPoint(path string, log *zap.Logger) (EntryPoint, error) {
	doc, err := Parse(path)
	if err != nil {
		return EntryPoint{}, err
	}
	return Resolve(doc, log)
}

// Resolve walks activities and their intent filters in document order. The
// first filter carrying ActionMain wins; categories are not checked and later
// matches are ignored.
func Resolve(doc *Document, log *zap.Logger) (EntryPoint, error) {
	if log == nil {
		log = zap.NewNop()
	}
	activities := doc.Application.Activities
	if len(activities) == 0 {
		return EntryPoint{}, errors.WithStack(ErrNoActivitiesDeclared)
	}
	for i, activity := range activities {
		name := strings.TrimSpace(activity.Name)
		if name == "" {
			log.Warn("activity without android:name skipped", zap.Int("index", i))
			continue
		}
		for _, filter := range activity.IntentFilters {
			if filter.HasAction(ActionMain) {
				return EntryPoint{
					QualifiedName: name,
					SimpleName:    SimpleName(name),
					ActivityCount: len(activities),
				}, nil
			}
		}
	}
	return EntryPoint{}, errors.Wrapf(ErrNoMainEntryPoint, "%d activities checked", len(activities))
}

// SimpleName returns the segment after the last '.', or name itself when that
// segment is empty or there is no '.'.
func SimpleName(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return name
	}
	return name[i+1:]
}
