// Package python manages the uv project that hosts the embedding model and
// runs stored snippets against the last query result.
package python

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
)

//go:embed scripts/*
var scriptFiles embed.FS

const (
	uvSyncTimeout  = 10 * time.Minute
	snippetTimeout = 2 * time.Minute
)

// FindUV locates the uv binary in PATH.
func FindUV() (string, error) {
	uvPath, err := exec.LookPath("uv")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeConfig, "uv not found in PATH").
			WithSuggestion("Install it from https://docs.astral.sh/uv/getting-started/installation/")
	}

	return uvPath, nil
}

// EnsureEnvironment extracts embedded Python scripts to cacheDir/python/ and
// runs uv sync to install dependencies. Returns the project directory.
func EnsureEnvironment(ctx context.Context, uvPath, cacheDir string) (string, error) {
	projectDir := filepath.Join(cacheDir, "python")

	if err := extractScripts(projectDir); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to extract Python scripts")
	}

	if err := uvSync(ctx, uvPath, projectDir); err != nil {
		return "", err
	}

	return projectDir, nil
}

// RunScript builds an exec.Cmd that runs a Python script via uv.
func RunScript(ctx context.Context, uvPath, projectDir, scriptName string, args ...string) *exec.Cmd {
	scriptPath := filepath.Join(projectDir, scriptName)

	cmdArgs := []string{
		"run",
		"--project", projectDir,
		"--quiet",
		"python", scriptPath,
	}
	cmdArgs = append(cmdArgs, args...)

	return exec.CommandContext(ctx, uvPath, cmdArgs...)
}

func extractScripts(projectDir string) error {
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return err
	}

	return fs.WalkDir(scriptFiles, "scripts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel("scripts", path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(projectDir, relPath)

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o755)
		}

		content, err := scriptFiles.ReadFile(path)
		if err != nil {
			return err
		}

		return os.WriteFile(targetPath, content, 0o644)
	})
}

func uvSync(ctx context.Context, uvPath, projectDir string) error {
	ctx, cancel := context.WithTimeout(ctx, uvSyncTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, uvPath, "sync", "--project", projectDir, "--quiet")
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.New(errors.ErrTypeConfig, "uv sync timed out (this may happen on first run while installing torch)")
		}

		return errors.Wrap(err, errors.ErrTypeConfig, "uv sync failed")
	}

	return nil
}

// SnippetRunner executes stored snippets with run_snippet.py. The last
// result is handed over as a temporary CSV file bound to df.
type SnippetRunner struct {
	uvPath     string
	projectDir string
	timeout    time.Duration

	command func(ctx context.Context, args ...string) *exec.Cmd
}

// NewSnippetRunner creates a runner for a prepared uv project
func NewSnippetRunner(uvPath, projectDir string) *SnippetRunner {
	r := &SnippetRunner{uvPath: uvPath, projectDir: projectDir, timeout: snippetTimeout}
	r.command = func(ctx context.Context, args ...string) *exec.Cmd {
		return RunScript(ctx, r.uvPath, r.projectDir, "run_snippet.py", args...)
	}

	return r
}

// RunSnippet returns the combined output of the snippet. A non-zero exit is
// an execution error; the output still carries the traceback.
func (r *SnippetRunner) RunSnippet(ctx context.Context, code string, df *frame.Frame) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var args []string

	if df != nil && len(df.Columns) > 0 {
		path, err := writeFrameCSV(df)
		if err != nil {
			return "", err
		}
		defer os.Remove(path)

		args = append(args, "--csv", path)
	}

	cmd := r.command(ctx, args...)
	cmd.Stdin = strings.NewReader(code)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()

	logging.WithFields(map[string]interface{}{
		"duration": time.Since(start).String(),
		"failed":   err != nil,
	}).Debug("Snippet finished")

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out.String(), errors.Newf(errors.ErrTypeExecution, "snippet timed out after %v", r.timeout)
		}

		return out.String(), errors.Wrap(err, errors.ErrTypeExecution, "snippet exited with an error")
	}

	return out.String(), nil
}

func writeFrameCSV(df *frame.Frame) (string, error) {
	f, err := os.CreateTemp("", "sqlchat-df-*.csv")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to create temporary CSV")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(df.Columns); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write CSV header")
	}

	record := make([]string, len(df.Columns))

	for _, row := range df.Rows {
		for i, v := range row {
			if v == nil {
				record[i] = ""
				continue
			}

			record[i] = frame.Format(v)
		}

		if err := w.Write(record); err != nil {
			return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to write CSV row")
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return "", errors.Wrap(err, errors.ErrTypeFileSystem, "failed to flush CSV")
	}

	return f.Name(), nil
}
