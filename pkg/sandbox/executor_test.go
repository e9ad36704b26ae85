package sandbox_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadron-sdlc/hadron/pkg/sandbox"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ex, err := sandbox.New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	out, isErr, err := ex.Execute(ctx, "write_file", map[string]any{"path": "nested/hello.txt", "content": "hi"})
	require.NoError(t, err)
	require.False(t, isErr)
	require.Contains(t, out, "wrote 2 bytes")

	out, isErr, err = ex.Execute(ctx, "read_file", map[string]any{"path": "nested/hello.txt"})
	require.NoError(t, err)
	require.False(t, isErr)
	require.Equal(t, "hi", out)
}

func TestPathEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	ex, err := sandbox.New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	out, isErr, err := ex.Execute(ctx, "read_file", map[string]any{"path": "../../etc/passwd"})
	require.NoError(t, err)
	require.True(t, isErr)
	require.Contains(t, out, "escapes working directory")
}

func TestSymlinkEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o644))
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.txt")))

	ex, err := sandbox.New(dir)
	require.NoError(t, err)

	out, isErr, err := ex.Execute(context.Background(), "read_file", map[string]any{"path": "link.txt"})
	require.NoError(t, err)
	require.True(t, isErr)
	require.Contains(t, out, "escapes working directory")
}

func TestListDirectoryTruncates(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 250; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"+string(rune('a'+i%26))+string(rune('0'+i/26))), []byte("x"), 0o644))
	}
	ex, err := sandbox.New(dir)
	require.NoError(t, err)

	out, isErr, err := ex.Execute(context.Background(), "list_directory", map[string]any{"path": "."})
	require.NoError(t, err)
	require.False(t, isErr)
	require.Contains(t, out, "TRUNCATED")
}

func TestRunCommandScrubsEnv(t *testing.T) {
	t.Setenv("HADRON_ANTHROPIC_API_KEY", "super-secret")
	dir := t.TempDir()
	ex, err := sandbox.New(dir)
	require.NoError(t, err)

	out, isErr, err := ex.Execute(context.Background(), "run_command", map[string]any{"command": "env"})
	require.NoError(t, err)
	require.False(t, isErr)
	require.Contains(t, out, "Exit code: 0")
	require.NotContains(t, out, "super-secret")
	require.NotContains(t, out, "HADRON_ANTHROPIC_API_KEY")
}

func TestRunCommandNonZeroExitIsReportedNotErrored(t *testing.T) {
	dir := t.TempDir()
	ex, err := sandbox.New(dir)
	require.NoError(t, err)

	out, isErr, err := ex.Execute(context.Background(), "run_command", map[string]any{"command": "exit 7"})
	require.NoError(t, err)
	require.True(t, isErr)
	require.Contains(t, out, "Exit code: 7")
}
