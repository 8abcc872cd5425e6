// Package version manages the application's persisted version manifest.
//
// The manifest is a small YAML document carrying two version fields, a
// long form and a short form, which this package keeps in lockstep. The
// rest of the document (bundle name, identifier, whatever the app ships
// with) is preserved byte-for-byte in structure and order across a bump.
package version

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Manifest field names. Both are rewritten to the same value on every
// bump; consumers read whichever form they prefer.
const (
	FieldVersion      = "version"
	FieldShortVersion = "short_version"
)

// Store reads and writes the version manifest at a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store over the manifest at path. The file is not
// touched until Read or Write is called.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the manifest location.
func (s *Store) Path() string {
	return s.path
}

// Read returns the current version recorded in the manifest.
// Fails with *ReadError if the file is missing, not valid YAML, or has
// no non-empty version field.
func (s *Store) Read() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", &ReadError{Path: s.path, Message: "open manifest", Err: err}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return "", &ReadError{Path: s.path, Message: "parse manifest", Err: err}
	}

	value := lookupMapping(&root, FieldVersion)
	if value == nil || value.Value == "" {
		return "", &ReadError{Path: s.path, Message: fmt.Sprintf("missing %q field", FieldVersion)}
	}
	return value.Value, nil
}

// Write records newVersion in the manifest, setting both the long and
// short version fields to the same value. The rest of the document is
// left untouched (key order, unrelated fields, comments).
//
// Fails with *InvariantError when old == new: a no-op bump would defeat
// the feed's duplicate detection and reuse the previous archive name.
func (s *Store) Write(oldVersion, newVersion string) error {
	if oldVersion == newVersion {
		return &InvariantError{Version: newVersion}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return &ReadError{Path: s.path, Message: "open manifest", Err: err}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return &ReadError{Path: s.path, Message: "parse manifest", Err: err}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return &ReadError{Path: s.path, Message: "manifest is not a mapping"}
	}
	doc := root.Content[0]

	setMapping(doc, FieldVersion, newVersion)
	setMapping(doc, FieldShortVersion, newVersion)

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode version manifest: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("write version manifest %s: %w", s.path, err)
	}
	return nil
}

// Normalize converts a version string given on the command line to NFC.
// macOS terminals hand over decomposed input; the version ends up in the
// archive filename and the feed title, so both sides must agree on one
// form.
func Normalize(v string) string {
	return norm.NFC.String(v)
}

// Parse validates a version string under loosened semver rules: a 'v'
// prefix and zero-padded segments are accepted, but all three segments
// must be present (so "0.3" is padded to "0.3.0" before parsing).
func Parse(v string) (*semver.Version, error) {
	padded := v
	for dots := 0; dots < 2; dots++ {
		if countByte(padded, '.') < 2 {
			padded += ".0"
		}
	}
	return semver.NewVersion(padded)
}

// Compare reports -1, 0 or 1 for a < b, a == b, a > b under Parse's
// rules. Returns an error if either side does not parse.
func Compare(a, b string) (int, error) {
	av, err := Parse(a)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", a, err)
	}
	bv, err := Parse(b)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", b, err)
	}
	return av.Compare(bv), nil
}

func countByte(s string, c byte) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			n++
		}
	}
	return n
}

// lookupMapping returns the value node for key in the document's
// top-level mapping, or nil if absent.
func lookupMapping(root *yaml.Node, key string) *yaml.Node {
	if len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == key {
			return doc.Content[i+1]
		}
	}
	return nil
}

// setMapping sets key to value in a mapping node, appending the pair if
// the key is not present yet.
func setMapping(doc *yaml.Node, key, value string) {
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == key {
			doc.Content[i+1].SetString(value)
			return
		}
	}
	k := &yaml.Node{}
	k.SetString(key)
	v := &yaml.Node{}
	v.SetString(value)
	doc.Content = append(doc.Content, k, v)
}
