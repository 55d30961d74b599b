package sink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuacker/capkit/internal/core"
)

func TestNewUnknownFormat(t *testing.T) {
	_, err := New("msgpack", "")
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestNewNoneIsNop(t *testing.T) {
	for _, format := range []string{"", "none"} {
		s, err := New(format, "")
		require.NoError(t, err)
		assert.NoError(t, s.Emit("Frame 1", map[string]any{"number": 1}))
		assert.NoError(t, s.Close())
	}
}

func TestFormatsRegistered(t *testing.T) {
	formats := Formats()
	assert.Contains(t, formats, "json")
	assert.Contains(t, formats, "yaml")
	assert.Contains(t, formats, "console")
}

func TestJSONEmit(t *testing.T) {
	var buf bytes.Buffer
	s := registry["json"](&buf)

	require.NoError(t, s.Emit("Frame 1", map[string]any{"number": 1}))
	require.NoError(t, s.Close())

	assert.Contains(t, buf.String(), `"Frame 1"`)
	assert.Contains(t, buf.String(), `"number": 1`)
}

func TestYAMLEmitSeparateDocuments(t *testing.T) {
	var buf bytes.Buffer
	s := registry["yaml"](&buf)

	require.NoError(t, s.Emit("Frame 1", map[string]any{"number": 1}))
	require.NoError(t, s.Emit("Frame 2", map[string]any{"number": 2}))
	require.NoError(t, s.Close())

	out := buf.String()
	assert.Contains(t, out, "Frame 1:")
	assert.Contains(t, out, "Frame 2:")
	assert.Contains(t, out, "---", "each emission is its own document")
}

func TestConsoleEmit(t *testing.T) {
	var buf bytes.Buffer
	s := registry["console"](&buf)

	require.NoError(t, s.Emit("Global Header", map[string]any{"snaplen": 65535}))
	require.NoError(t, s.Close())

	assert.Contains(t, buf.String(), "Global Header: ")
}
