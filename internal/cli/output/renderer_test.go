package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode Mode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, tty, mode), out, errOut
}

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		mode Mode
		tty  bool
		want Mode
	}{
		{ModeAuto, true, ModeText},
		{ModeAuto, false, ModeMarkdown},
		{"", false, ModeMarkdown},
		{ModeText, false, ModeText},
		{ModeMarkdown, true, ModeMarkdown},
		{ModeJSON, true, ModeJSON},
		{"yaml", false, ModeText},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			r, _, _ := newTestRenderer(tt.mode, tt.tty)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestNewRenderer_BufferIsNotTerminal(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.False(t, r.IsTTY())
}

func TestRenderer_TableMarkdown(t *testing.T) {
	r, out, _ := newTestRenderer(ModeMarkdown, false)
	r.Table([]string{"table", "rows"}, [][]any{{"demographics", 2}, {"visits", 1}})

	s := out.String()
	assert.Contains(t, s, "| table | rows |")
	assert.Contains(t, s, "| demographics | 2 |")
	assert.NotContains(t, s, "\x1b[")
}

func TestRenderer_TableText(t *testing.T) {
	r, out, _ := newTestRenderer(ModeText, false)
	r.Table([]string{"table", "rows"}, [][]any{{"visits", 1}})

	s := out.String()
	assert.Contains(t, s, "TABLE")
	assert.Contains(t, s, "visits")
	assert.Contains(t, s, "┌")
}

func TestRenderer_JSON(t *testing.T) {
	r, out, _ := newTestRenderer(ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"rows": 3}))

	var got map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 3, got["rows"])
}

func TestRenderer_PlainWithoutTerminal(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText, false)
	r.Header("Summary")
	r.Success("done")
	r.StatusLine("visits", "success", "1 row")
	r.Warning("careful")

	assert.Equal(t, "Summary\ndone\n✓ visits 1 row\n", out.String())
	assert.Equal(t, "warning: careful\n", errOut.String())
}

func TestRenderer_MarkdownHeader(t *testing.T) {
	r, out, _ := newTestRenderer(ModeAuto, false)
	r.Header("Tables")
	r.KeyValue("records", 2)
	assert.Equal(t, "## Tables\n\n- **records**: 2\n", out.String())
}
