// Package testutil builds plugin directory fixtures for tests.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultLocalDir is the local plugin root fixtures are written under.
const DefaultLocalDir = "/opt/pilethost/lib/pilethost"

// Plugin describes a plugin directory to write.
type Plugin struct {
	Dir    string // Parent directory
	Name   string // Directory base name
	Entry  string // Entry file name inside the directory
	Source string // Entry file contents
}

// NewPlugin returns a Plugin with sensible defaults: a uniquely named
// pilethost-cli-* directory under DefaultLocalDir whose init.lua returns a
// setup function that does nothing. Override fields with options.
func NewPlugin(opts ...func(*Plugin)) Plugin {
	p := Plugin{
		Dir:    DefaultLocalDir,
		Name:   "pilethost-cli-" + uuid.NewString()[:8],
		Entry:  "init.lua",
		Source: "return function(api) end\n",
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithDir sets the parent directory.
func WithDir(dir string) func(*Plugin) {
	return func(p *Plugin) { p.Dir = dir }
}

// WithName sets the directory base name.
func WithName(name string) func(*Plugin) {
	return func(p *Plugin) { p.Name = name }
}

// WithEntry sets the entry file name.
func WithEntry(entry string) func(*Plugin) {
	return func(p *Plugin) { p.Entry = entry }
}

// WithSource sets the entry file contents.
func WithSource(src string) func(*Plugin) {
	return func(p *Plugin) { p.Source = src }
}

// WithExtension makes the plugin contribute a fixed html string to slot.
func WithExtension(slot, html string) func(*Plugin) {
	return func(p *Plugin) {
		p.Source = fmt.Sprintf("return function(api)\n  api.registerExtension(%q, %q)\nend\n", slot, html)
	}
}

// Path returns the plugin directory.
func (p Plugin) Path() string {
	return filepath.Join(p.Dir, p.Name)
}

// WritePlugin creates the plugin directory and entry file on fs and
// returns the directory.
func WritePlugin(t testing.TB, fs afero.Fs, p Plugin) string {
	t.Helper()
	dir := p.Path()
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create plugin dir: %v", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, p.Entry), []byte(p.Source), 0o644); err != nil {
		t.Fatalf("write plugin entry: %v", err)
	}
	return dir
}
