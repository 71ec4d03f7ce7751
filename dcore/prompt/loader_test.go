package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestAssembleOrdersAndHeadersFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", "agent rules")
	writeFile(t, dir, "SOUL.md", "persona")

	out, err := Assemble(dir)
	require.NoError(t, err)

	assert.Contains(t, out, "# SOUL.md\npersona")
	assert.Contains(t, out, "# AGENTS.md\nagent rules")
	assert.Less(t, strings.Index(out, "SOUL.md"), strings.Index(out, "AGENTS.md"))
}

func TestAssembleSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()

	out, err := Assemble(dir)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoaderReadsInitialPrompt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "USER.md", "the user")

	l, err := NewLoader(dir, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "# USER.md\nthe user", l.SystemPrompt())
}
