package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Corphon/ScriptVoice/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, "Joe: Hi\nJane: Hello\nJoe: Bye", "parse", "-")
	require.NoError(t, err)

	var speakers []models.Speaker
	require.NoError(t, json.Unmarshal([]byte(out), &speakers))
	require.Len(t, speakers, 2)
	assert.Equal(t, "joe", speakers[0].ID)
	assert.Equal(t, []string{"Hi", "Bye"}, speakers[0].Dialogues)
	assert.Equal(t, models.DefaultVoiceCatalog[1], speakers[1].Voice)
}

func TestPreviewRequiresTarget(t *testing.T) {
	_, err := run(t, "Joe: Hi", "preview", "-", "--provider", "tone")
	assert.ErrorContains(t, err, "--speaker")
}

func TestPreviewAllWritesFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	outDir := t.TempDir()

	_, err := run(t, "Joe: Hi\nJane: Hello", "preview", "-", "--all", "--provider", "tone", "--out", outDir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outDir, "joe.wav"))
	assert.FileExists(t, filepath.Join(outDir, "jane.wav"))
}

func TestStoryCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	output := filepath.Join(t.TempDir(), "story.wav")

	out, err := run(t, "Joe: Hi\nJane: Hello", "story", "-", "--provider", "tone", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, output)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
}

func TestStoryCommandWithEmptyScript(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "", "story", "-", "--provider", "tone")
	assert.Error(t, err)
}

func TestPreviewKeepsFilesInsideOutputDir(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)
	outDir := filepath.Join(root, "a", "b", "out")

	_, err := run(t, "../../escape: hi", "preview", "-", "--all", "--provider", "tone", "--out", outDir)
	require.NoError(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".._.._escape.wav", entries[0].Name())
	assert.NoFileExists(t, filepath.Join(root, "a", "escape.wav"))
	assert.NoFileExists(t, filepath.Join(root, "escape.wav"))
}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "joe.wav", outputFileName("joe"))
	assert.Equal(t, "mary-ann.wav", outputFileName("mary-ann"))
	assert.Equal(t, ".._.._tmp_pwn.wav", outputFileName("../../tmp/pwn"))
	assert.Equal(t, "a_b.wav", outputFileName(`a\b`))
}
