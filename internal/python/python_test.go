package python

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
)

func TestFindUV(t *testing.T) {
	uvPath, err := FindUV()
	if err != nil {
		t.Skipf("uv not installed: %v", err)
	}

	assert.NotEmpty(t, uvPath)
}

func TestExtractScripts(t *testing.T) {
	projectDir := t.TempDir()

	require.NoError(t, extractScripts(projectDir))

	for _, name := range []string{"pyproject.toml", "embed.py", "run_snippet.py"} {
		_, err := os.Stat(filepath.Join(projectDir, name))
		assert.NoError(t, err, "expected %s to be extracted", name)
	}

	// Idempotent
	require.NoError(t, extractScripts(projectDir))
}

func TestRunScript_BuildsCommand(t *testing.T) {
	cmd := RunScript(context.Background(), "/usr/bin/uv", "/tmp/project", "embed.py", "--model", "m", "--stdin")

	assert.Equal(t, []string{
		"/usr/bin/uv", "run",
		"--project", "/tmp/project",
		"--quiet",
		"python", "/tmp/project/embed.py",
		"--model", "m", "--stdin",
	}, cmd.Args)
}

// shellRunner swaps uv for sh so the CSV handoff can be observed
func shellRunner(t *testing.T, script string) *SnippetRunner {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewSnippetRunner("/unused/uv", t.TempDir())
	r.command = func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", append([]string{"-c", script, "sh"}, args...)...)
	}

	return r
}

func TestSnippetRunner_PassesFrameAndCode(t *testing.T) {
	r := shellRunner(t, `if [ "$1" = "--csv" ]; then cat "$2"; fi; cat`)

	df := frame.New("name", "salary")
	df.Append("Ann", int64(100))
	df.Append(nil, 2.5)

	out, err := r.RunSnippet(context.Background(), "print(df.shape)", df)
	require.NoError(t, err)
	assert.Equal(t, "name,salary\nAnn,100\n,2.5\nprint(df.shape)", out)
}

func TestSnippetRunner_EmptyFrameSkipsCSV(t *testing.T) {
	r := shellRunner(t, `echo "args:$#"`)

	out, err := r.RunSnippet(context.Background(), "pass", frame.New())
	require.NoError(t, err)
	assert.Equal(t, "args:0\n", out)
}

func TestSnippetRunner_Failure(t *testing.T) {
	r := shellRunner(t, `echo "Traceback: boom"; exit 3`)

	out, err := r.RunSnippet(context.Background(), "raise ValueError()", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeExecution))
	assert.Contains(t, out, "Traceback: boom")
}

func TestEnsureEnvironment(t *testing.T) {
	if os.Getenv("SQLCHAT_PYTHON_TESTS") == "" {
		t.Skip("set SQLCHAT_PYTHON_TESTS=1 to install the Python environment")
	}

	uvPath, err := FindUV()
	if err != nil {
		t.Skipf("uv not installed: %v", err)
	}

	cacheDir := t.TempDir()

	projectDir, err := EnsureEnvironment(context.Background(), uvPath, cacheDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "python"), projectDir)

	_, err = os.Stat(filepath.Join(projectDir, "pyproject.toml"))
	assert.NoError(t, err)
}
