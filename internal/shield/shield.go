// Package shield ships the detection engine sources that the injected call
// refers to and installs them into a project's source tree.
package shield

import (
	"bytes"
	"embed"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ajranjith/source-shield/internal/lexical"
	"github.com/ajranjith/source-shield/internal/support"
)

//go:embed templates/*
var templates embed.FS

// State of an installed template relative to the embedded one.
type State string

const (
	StateMissing  State = "missing"
	StateCurrent  State = "current"
	StateModified State = "modified"
)

type Installed struct {
	Path    string
	Changed bool
	SHA256  string
}

// Template returns the embedded detection engine source for d.
func Template(d *lexical.Dialect) ([]byte, error) {
	data, err := templates.ReadFile(path.Join("templates", d.TemplateFile))
	if err != nil {
		return nil, errors.Wrapf(err, "no shield template for %s", d.Name)
	}
	return data, nil
}

// Destination is where the template lives under sourceRoot, following the
// package directory layout.
func Destination(sourceRoot string, d *lexical.Dialect) string {
	parts := append([]string{sourceRoot}, strings.Split(lexical.ShieldPackage, ".")...)
	return filepath.Join(append(parts, d.TemplateFile)...)
}

// Install copies the template into sourceRoot. An identical file already in
// place is left untouched.
func Install(sourceRoot string, d *lexical.Dialect) (Installed, error) {
	data, err := Template(d)
	if err != nil {
		return Installed{}, err
	}
	dst := Destination(sourceRoot, d)
	out := Installed{Path: dst, SHA256: support.HashBytes(data)}

	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, data) {
		return out, nil
	}
	if err := support.WriteFileAtomic(dst, data); err != nil {
		return Installed{}, errors.Wrapf(err, "install shield template %s", dst)
	}
	out.Changed = true
	return out, nil
}

// Status compares the installed template with the embedded one.
func Status(sourceRoot string, d *lexical.Dialect) (State, error) {
	data, err := Template(d)
	if err != nil {
		return "", err
	}
	existing, err := os.ReadFile(Destination(sourceRoot, d))
	if err != nil {
		if os.IsNotExist(err) {
			return StateMissing, nil
		}
		return "", errors.WithStack(err)
	}
	if bytes.Equal(existing, data) {
		return StateCurrent, nil
	}
	return StateModified, nil
}
