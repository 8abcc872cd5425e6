// Package feed maintains the appcast: the RSS document that update
// clients poll to learn about new releases.
//
// A release adds exactly one item to the single channel. The merge is
// duplicate-safe (re-running a release for the same version is a no-op)
// and preserves every existing entry, including elements and attributes
// this tool knows nothing about, in their original order.
package feed

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/beevik/etree"
)

// Sparkle feed namespace declarations carried on the rss root of the
// synthesized fragment.
const (
	sparkleNS = "http://www.andymatuschak.org/xml-namespaces/sparkle"
	dcNS      = "http://purl.org/dc/elements/1.1/"
)

// pubDateLayout is the RFC-822-style timestamp format the feed uses,
// always rendered in UTC.
const pubDateLayout = "Mon, 02 Jan 2006 15:04:05 +0000"

// Release describes one feed entry to be merged into the appcast.
type Release struct {
	// OldVersion appears in the changelog heading.
	OldVersion string

	// NewVersion appears in the title and the enclosure version tag.
	NewVersion string

	// ArchivePath is the local artifact path; only its base name is
	// used, percent-escaped, to form the enclosure URL.
	ArchivePath string

	// DownloadURLPrefix is the hosting location the enclosure points
	// into, without a trailing slash.
	DownloadURLPrefix string

	// Signature is the base64 artifact signature.
	Signature string

	// SignatureAttr is the enclosure attribute the signature is
	// published under (sparkle:edSignature or sparkle:dsaSignature).
	SignatureAttr string

	// SizeBytes is the exact artifact size.
	SizeBytes int64

	// PubDate is the publication timestamp; rendered in UTC.
	PubDate time.Time
}

// Title returns the item title for this release.
func (r Release) Title() string {
	return "Version " + r.NewVersion
}

// EnclosureURL returns the download URL for this release's artifact.
func (r Release) EnclosureURL() string {
	return r.DownloadURLPrefix + "/" + url.PathEscape(filepath.Base(r.ArchivePath))
}

// NewItemDocument synthesizes a standalone one-item feed document for
// the release. The description is deliberately boilerplate: a changelog
// heading over empty list items, to be filled in by hand before the
// release is announced.
func NewItemDocument(r Release) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	rss := doc.CreateElement("rss")
	rss.CreateAttr("version", "2.0")
	rss.CreateAttr("xmlns:sparkle", sparkleNS)
	rss.CreateAttr("xmlns:dc", dcNS)

	channel := rss.CreateElement("channel")
	item := channel.CreateElement("item")

	item.CreateElement("title").SetText(r.Title())

	desc := item.CreateElement("description")
	desc.CreateElement("h3").SetText("Changes Since " + r.OldVersion)
	desc.CreateElement("li")
	desc.CreateElement("li")

	item.CreateElement("pubDate").SetText(r.PubDate.UTC().Format(pubDateLayout))

	enc := item.CreateElement("enclosure")
	enc.CreateAttr("url", r.EnclosureURL())
	enc.CreateAttr("sparkle:version", r.NewVersion)
	enc.CreateAttr("length", fmt.Sprintf("%d", r.SizeBytes))
	enc.CreateAttr("type", "application/octet-stream")
	enc.CreateAttr(r.SignatureAttr, r.Signature)

	return doc
}

// AppendRelease merges a newly synthesized entry for the release into
// the appcast at path and rewrites the whole document, pretty-printed.
//
// If an item with the same title already exists the call is a no-op: the
// appcast is already announcing this version and must not announce it
// twice. Structural ambiguity (two channels, a fragment without exactly
// one item and title) fails before anything is written.
func AppendRelease(path string, r Release) error {
	return Merge(path, NewItemDocument(r))
}

// Merge inserts the fragment's single item as the last child of the
// appcast's single channel. Exposed separately from AppendRelease so the
// structural guards are testable against arbitrary fragments.
func Merge(path string, fragment *etree.Document) error {
	items := fragment.FindElements("//item")
	if len(items) != 1 {
		return &StructureError{Node: "item", Count: len(items)}
	}
	titles := fragment.FindElements("//item/title")
	if len(titles) != 1 {
		return &StructureError{Node: "item/title", Count: len(titles)}
	}
	newTitle := titles[0].Text()

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return &LoadError{Path: path, Err: err}
	}

	// Duplicate guard: re-running a release must not grow the feed.
	for _, t := range doc.FindElements("//item/title") {
		if t.Text() == newTitle {
			return nil
		}
	}

	channels := doc.FindElements("//channel")
	if len(channels) != 1 {
		return &StructureError{Node: "channel", Count: len(channels)}
	}
	channels[0].AddChild(items[0].Copy())

	doc.Indent(4)
	return writeAtomic(path, doc)
}

// Titles returns the item titles of the appcast at path, in document
// order.
func Titles(path string) ([]string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var titles []string
	for _, t := range doc.FindElements("//item/title") {
		titles = append(titles, t.Text())
	}
	return titles, nil
}

// writeAtomic rewrites the document via a temp file in the same
// directory followed by a rename, so readers never observe a partial
// appcast.
func writeAtomic(path string, doc *etree.Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write appcast: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := doc.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write appcast: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write appcast: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write appcast: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write appcast: %w", err)
	}
	return nil
}
