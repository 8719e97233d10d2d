package forge

import (
	"archive/tar"
	"compress/gzip"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

// fakeRunner records every command; hook, when set, supplies responses.
type fakeRunner struct {
	calls []Command
	hook  func(Command) (Result, error)
}

func (f *fakeRunner) Run(cmd Command) (Result, error) {
	f.calls = append(f.calls, cmd)
	if f.hook != nil {
		return f.hook(cmd)
	}
	return Result{}, nil
}

func (f *fakeRunner) progs() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Prog
	}
	return out
}

func makeTarGz(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "src.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractTar(t *testing.T) {
	tmp := t.TempDir()
	archive := makeTarGz(t, tmp, map[string]string{
		"proj-1.0/configure":  "#!/bin/sh",
		"proj-1.0/src/main.c": "int main(void){return 0;}",
	})

	dest := filepath.Join(tmp, "out")
	require.NoError(t, extractTar(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "proj-1.0", "src", "main.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main(void){return 0;}", string(data))
}

func TestExtractTarRejectsTraversal(t *testing.T) {
	tmp := t.TempDir()
	archive := makeTarGz(t, tmp, map[string]string{"../evil": "x"})
	err := extractTar(archive, filepath.Join(tmp, "out"))
	assert.ErrorContains(t, err, "illegal file path")
}

func TestExtractTarUnsupportedFormat(t *testing.T) {
	path := writeTemp(t, "src.rar", "nope")
	assert.ErrorContains(t, extractTar(path, t.TempDir()), "unsupported archive format")
}

func TestFlattenSingleRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "proj-1.0", "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proj-1.0", "configure"), nil, 0o644))

	require.NoError(t, flattenSingleRoot(dir))

	assert.FileExists(t, filepath.Join(dir, "configure"))
	assert.DirExists(t, filepath.Join(dir, "src"))
	assert.NoDirExists(t, filepath.Join(dir, "proj-1.0"))
}

func TestFlattenSingleRootLeavesMultiEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), nil, 0o644))

	require.NoError(t, flattenSingleRoot(dir))
	assert.DirExists(t, filepath.Join(dir, "a"))
}

func TestVerifyBlake3(t *testing.T) {
	path := writeTemp(t, "blob", "hello world")
	sum := blake3.Sum256([]byte("hello world"))
	want := hex.EncodeToString(sum[:])

	require.NoError(t, verifyBlake3(path, want))
	assert.ErrorContains(t, verifyBlake3(path, "deadbeef"), "checksum mismatch")
}

func TestFetchTarballSkipUpdatesKeepsLegacyCheckout(t *testing.T) {
	layout, err := newLayout(t.TempDir())
	require.NoError(t, err)
	p := &Package{Name: "xz", Kind: kindAutotools,
		Tarball: &TarballSource{File: "xz.tar.xz", URL: "https://example.invalid/xz.tar.xz"}}

	// An old-style git checkout is still a present tree and must be
	// used verbatim when updates are off.
	dir := layout.RepoDir(p.Name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configure"), nil, 0o755))

	changed, err := fetchTarball(layout, p, true, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.FileExists(t, filepath.Join(dir, "configure"))
}

func TestFetchTarballSkipUpdatesMissingTree(t *testing.T) {
	layout, err := newLayout(t.TempDir())
	require.NoError(t, err)
	p := &Package{Name: "xz", Kind: kindAutotools,
		Tarball: &TarballSource{File: "xz.tar.xz", URL: "https://example.invalid/xz.tar.xz"}}

	_, err = fetchTarball(layout, p, true, nil)
	assert.ErrorContains(t, err, "updates are disabled")
}

func TestGitSyncSkipUpdatesMissingTree(t *testing.T) {
	fake := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "dav1d")
	_, err := gitSync(fake, "https://example.invalid/dav1d.git", "dav1d", dir, false, true, nil)
	assert.ErrorContains(t, err, "updates are disabled")
	assert.Empty(t, fake.calls)
}

func TestGitSyncSkipUpdatesExistingTree(t *testing.T) {
	fake := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "dav1d")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))

	changed, err := gitSync(fake, "https://example.invalid/dav1d.git", "dav1d", dir, false, true, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, fake.calls, "skip-updates must not touch the network")
}

func TestGitSyncClonesMissingTree(t *testing.T) {
	fake := &fakeRunner{}
	dir := filepath.Join(t.TempDir(), "ffmpeg")

	changed, err := gitSync(fake, "https://example.invalid/ffmpeg.git", "ffmpeg", dir, true, false, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "git", fake.calls[0].Prog)
	assert.Contains(t, fake.calls[0].Args, "clone")
	assert.Contains(t, fake.calls[0].Args, "--depth")
}

func TestGitSyncDetectsNewRevision(t *testing.T) {
	revs := []string{"aaa\n", "bbb\n"}
	fake := &fakeRunner{hook: func(cmd Command) (Result, error) {
		if cmd.Prog == "git" && len(cmd.Args) > 0 {
			switch cmd.Args[0] {
			case "remote":
				return Result{Stdout: "https://example.invalid/x.git\n"}, nil
			case "rev-parse":
				r := revs[0]
				revs = revs[1:]
				return Result{Stdout: r}, nil
			}
		}
		return Result{}, nil
	}}
	dir := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))

	changed, err := gitSync(fake, "https://example.invalid/x.git", "x", dir, false, false, nil)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestGitSyncPullFailureIsWarning(t *testing.T) {
	fake := &fakeRunner{hook: func(cmd Command) (Result, error) {
		if cmd.Prog == "git" && len(cmd.Args) > 0 {
			switch cmd.Args[0] {
			case "remote":
				return Result{Stdout: "https://example.invalid/x.git\n"}, nil
			case "rev-parse":
				return Result{Stdout: "aaa\n"}, nil
			case "pull":
				return Result{}, &CommandError{Line: "git pull", ExitCode: 128}
			}
		}
		return Result{}, nil
	}}
	dir := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))

	changed, err := gitSync(fake, "https://example.invalid/x.git", "x", dir, false, false, nil)
	require.NoError(t, err, "a failed pull must not abort the build")
	assert.False(t, changed)
}
