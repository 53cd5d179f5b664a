package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodev/internal/source"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		InputSchema: objectSchema([]string{"text"}, map[string][2]string{
			"text": {"string", "text to echo"},
		}),
		Execute: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	out, err := r.Execute(context.Background(), "echo", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	assert.ErrorIs(t, r.Register(echoTool("echo")), ErrToolAlreadyRegistered)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, r.Register(echoTool("alpha")))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
}

func TestSourceToolsReadOnly(t *testing.T) {
	r := NewRegistry()
	SourceTools(r, source.NewReader(t.TempDir()), false, nil)

	assert.NotNil(t, r.Get("list_files"))
	assert.NotNil(t, r.Get("read_file"))
	assert.Nil(t, r.Get("write_file"))
}

func TestSourceToolsWritableTracksWrites(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry()

	var written []string
	SourceTools(r, source.NewReader(root), true, func(path string) {
		written = append(written, path)
	})

	out, err := r.Execute(context.Background(), "write_file", map[string]interface{}{
		"path":    "src/app.ts",
		"content": "export {}\n",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "src/app.ts")
	assert.Equal(t, []string{"src/app.ts"}, written)

	content, err := r.Execute(context.Background(), "read_file", map[string]interface{}{"path": "src/app.ts"})
	require.NoError(t, err)
	assert.Equal(t, "export {}\n", content)
}

func TestWriteToolRefusesEscape(t *testing.T) {
	r := NewRegistry()
	SourceTools(r, source.NewReader(t.TempDir()), true, nil)

	_, err := r.Execute(context.Background(), "write_file", map[string]interface{}{
		"path":    "../outside.txt",
		"content": "nope",
	})
	assert.Error(t, err)
}
