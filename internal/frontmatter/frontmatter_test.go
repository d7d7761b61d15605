package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWithFrontMatter(t *testing.T) {
	raw := "---\ntitle: Data Poisoning\nseverity: high\n---\n\n# Data Poisoning\n\nBody text.\n"
	meta, body := Parse(raw)

	assert.Equal(t, "Data Poisoning", meta["title"])
	assert.Equal(t, "high", meta["severity"])
	assert.Equal(t, "\n# Data Poisoning\n\nBody text.\n", body)
}

func TestParseWithoutFrontMatter(t *testing.T) {
	raw := "# Just a heading\n\nNo front matter here.\n"
	meta, body := Parse(raw)

	assert.Empty(t, meta)
	assert.Equal(t, raw, body)
}

func TestParseUnterminatedFrontMatterFailsSoft(t *testing.T) {
	raw := "---\ntitle: Broken\nno closing delimiter"
	meta, body := Parse(raw)

	assert.Empty(t, meta)
	assert.Equal(t, raw, body)
}

func TestParseInvalidYAMLFailsSoft(t *testing.T) {
	raw := "---\n\t{not yaml: [\n---\nBody.\n"
	meta, body := Parse(raw)

	assert.Empty(t, meta)
	assert.Equal(t, raw, body)
}

func TestParseCRLF(t *testing.T) {
	raw := "---\r\ntitle: Windows\r\n---\r\nBody.\r\n"
	meta, body := Parse(raw)

	assert.Equal(t, "Windows", meta["title"])
	assert.Equal(t, "Body.\n", body)
}

func TestParseEmptyInput(t *testing.T) {
	meta, body := Parse("")
	assert.Empty(t, meta)
	assert.Empty(t, body)
}
