package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyleking/sqlchat/internal/datasource"
)

// RunConcurrent executes the given function concurrently n times.
// Waits for all goroutines to complete before returning.
// Any panics are captured and reported as test failures.
func RunConcurrent(t *testing.T, n int, fn func(workerID int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		go func(workerID int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("worker %d panicked: %v", workerID, r)
				}
			}()
			fn(workerID)
		}(i)
	}

	wg.Wait()
}

// WriteCSVs writes each named file into a temp dir, in name order
func WriteCSVs(t *testing.T, files map[string]string) []datasource.CSVFile {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	dir := t.TempDir()
	out := make([]datasource.CSVFile, 0, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(files[name]), 0o600))
		out = append(out, datasource.CSVFile{Name: name, Path: path})
	}

	return out
}

// LoadWorkspace creates an in-memory workspace holding the given CSV files.
// It is closed when the test ends.
func LoadWorkspace(t *testing.T, files map[string]string) *datasource.Workspace {
	t.Helper()

	ws, err := datasource.NewWorkspace("", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_, err = ws.LoadCSVs(context.Background(), WriteCSVs(t, files))
	require.NoError(t, err)

	return ws
}
