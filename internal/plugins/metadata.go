package plugins

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// headerScanLimit bounds how much of a main file is searched for headers.
const headerScanLimit = 8 * 1024

// Metadata is the header block of a plugin's main file.
type Metadata struct {
	Name        string `json:"name"`
	PluginURI   string `json:"plugin_uri"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`
	AuthorURI   string `json:"author_uri"`
	License     string `json:"license"`
	RequiresAt  string `json:"requires_at_least"`
	TestedUpTo  string `json:"tested_up_to"`
}

var headerFields = []struct {
	label string
	set   func(*Metadata, string)
}{
	{"Plugin Name", func(m *Metadata, v string) { m.Name = v }},
	{"Plugin URI", func(m *Metadata, v string) { m.PluginURI = v }},
	{"Version", func(m *Metadata, v string) { m.Version = v }},
	{"Description", func(m *Metadata, v string) { m.Description = v }},
	{"Author", func(m *Metadata, v string) { m.Author = v }},
	{"Author URI", func(m *Metadata, v string) { m.AuthorURI = v }},
	{"License", func(m *Metadata, v string) { m.License = v }},
	{"Requires at least", func(m *Metadata, v string) { m.RequiresAt = v }},
	{"Tested up to", func(m *Metadata, v string) { m.TestedUpTo = v }},
}

var headerPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(headerFields))
	for i, f := range headerFields {
		// Labels are matched at the start of a comment line, case-insensitively.
		out[i] = regexp.MustCompile(`(?im)^[ \t/*#@]*` + regexp.QuoteMeta(f.label) + `:(.*)$`)
	}
	return out
}()

var trailingComment = regexp.MustCompile(`\s*(?:\*/|\?>).*$`)

// ParseMetadata reads the header block from r. Only the first 8 KiB are inspected.
func ParseMetadata(r io.Reader) (*Metadata, error) {
	buf, err := io.ReadAll(io.LimitReader(bufio.NewReader(r), headerScanLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin header: %w", err)
	}
	text := strings.ReplaceAll(string(buf), "\r", "\n")

	meta := &Metadata{}
	for i, f := range headerFields {
		m := headerPatterns[i].FindStringSubmatch(text)
		if m == nil {
			continue
		}
		f.set(meta, strings.TrimSpace(trailingComment.ReplaceAllString(m[1], "")))
	}
	return meta, nil
}

// ReadMetadata parses the header block of the file at path.
func ReadMetadata(fsys afero.Fs, path string) (*Metadata, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMetadata(f)
}
