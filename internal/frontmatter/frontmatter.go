// Package frontmatter splits a raw document into YAML front matter and
// body. It fails soft: anything that cannot be parsed is returned as an
// empty metadata map with the full raw text as the body, never an error.
package frontmatter

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the parsed front-matter mapping.
type Metadata = map[string]any

const delimiter = "---"

// Parse extracts front matter delimited by "---" lines at the top of
// the document. Missing or malformed front matter yields empty metadata
// and the unmodified raw text.
func Parse(raw string) (Metadata, string) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(normalized, delimiter+"\n") {
		return Metadata{}, raw
	}

	rest := normalized[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return Metadata{}, raw
	}
	head := rest[:end]
	body := rest[end+len(delimiter)+1:]
	// Drop the newline terminating the closing delimiter line, if any.
	body = strings.TrimPrefix(body, "\n")

	meta := Metadata{}
	if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
		return Metadata{}, raw
	}
	return meta, body
}
