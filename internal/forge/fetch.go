package forge

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"lukechampine.com/blake3"
)

const (
	downloadRetries = 3
	downloadDelay   = 5 * time.Second
)

var httpClient = &http.Client{Timeout: 300 * time.Second}

// downloadFile fetches url into destFile with the native HTTP client,
// showing a progress bar when attached to a terminal.
func downloadFile(url, destFile string) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destFile, err)
	}
	defer out.Close()

	var w io.Writer = out
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return nil
}

// downloadWithRetry wraps downloadFile with bounded retries and a fixed
// delay, deleting partial files between attempts.
func downloadWithRetry(url, destFile string, log *Logger) error {
	var err error
	for i := 0; i < downloadRetries; i++ {
		log.Infof("Downloading %s (Attempt %d)...", url, i+1)
		if err = downloadFile(url, destFile); err == nil {
			return nil
		}
		log.Warnf("Download failed: %v", err)
		os.Remove(destFile)
		if i < downloadRetries-1 {
			time.Sleep(downloadDelay)
		}
	}
	return fmt.Errorf("failed to download %s after %d attempts: %w", url, downloadRetries, err)
}

// verifyBlake3 streams the file through BLAKE3 and compares against the
// pinned hex digest.
func verifyBlake3(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want)
	}
	return nil
}

// gitSync brings the checkout in dir to the current upstream state and
// reports whether its content changed. An update failure after a clone
// exists is only a warning: building stale-but-present sources beats a
// hard stop, and every later package would be blocked by an abort here.
func gitSync(exec runner, url, name, dir string, shallow, skipUpdates bool, log *Logger) (bool, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if skipUpdates {
			return false, fmt.Errorf("source tree for %s is missing and updates are disabled", name)
		}
		log.Infof("%s missing or invalid. Cloning...", name)
		if err := removeTree(dir); err != nil {
			return false, err
		}
		args := []string{"clone", "--quiet", url, name}
		if shallow {
			args = []string{"clone", "--quiet", "--depth", "1", url, name}
		}
		if _, err := exec.Run(Command{Prog: "git", Args: args, Dir: filepath.Dir(dir)}); err != nil {
			return false, err
		}
		return true, nil
	}

	if skipUpdates {
		log.Infof("Skipping update for %s (user requested)", name)
		return false, nil
	}

	// Repair a drifted remote URL; failures here are not interesting.
	if res, err := exec.Run(Command{Prog: "git", Args: []string{"remote", "get-url", "origin"}, Dir: dir}); err == nil {
		if current := strings.TrimSpace(res.Stdout); current != url {
			exec.Run(Command{Prog: "git", Args: []string{"remote", "set-url", "origin", url}, Dir: dir})
		}
	}

	changed, err := func() (bool, error) {
		if _, err := exec.Run(Command{Prog: "git", Args: []string{"reset", "--hard", "HEAD"}, Dir: dir}); err != nil {
			return false, err
		}
		res, err := exec.Run(Command{Prog: "git", Args: []string{"rev-parse", "HEAD"}, Dir: dir})
		if err != nil {
			return false, err
		}
		old := strings.TrimSpace(res.Stdout)

		if _, err := exec.Run(Command{Prog: "git", Args: []string{"pull", "--quiet"}, Dir: dir}); err != nil {
			return false, err
		}
		if _, err := exec.Run(Command{Prog: "git", Args: []string{"submodule", "update", "--init", "--recursive", "--quiet"}, Dir: dir}); err != nil {
			return false, err
		}

		res, err = exec.Run(Command{Prog: "git", Args: []string{"rev-parse", "HEAD"}, Dir: dir})
		if err != nil {
			return false, err
		}
		return old != strings.TrimSpace(res.Stdout), nil
	}()
	if err != nil {
		log.Warnf("WARNING: Update failed for %s. Using existing local sources.", name)
		return false, nil
	}
	return changed, nil
}

// fetchTarball materializes an archive-pinned package. The source is
// changed only on first materialization; there is no update mechanism
// for tarball packages short of --clean plus a cache wipe.
func fetchTarball(l *Layout, p *Package, skipUpdates bool, log *Logger) (bool, error) {
	dir := l.RepoDir(p.Name)

	// With updates disabled any present tree is used verbatim, even a
	// legacy git checkout; only a fully absent tree is fatal.
	if skipUpdates {
		if _, err := os.Stat(dir); err != nil {
			return false, fmt.Errorf("source tree for %s is missing and updates are disabled", p.Name)
		}
		return false, nil
	}

	// A leftover git checkout from an earlier pin style gets replaced.
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		log.Infof("Replacing legacy git repo for %s with tarball...", p.Name)
		if err := removeTree(dir); err != nil {
			return false, err
		}
	}

	if _, err := os.Stat(dir); err == nil {
		return false, nil
	}

	tarball := filepath.Join(l.Tarballs, p.Tarball.File)
	if _, err := os.Stat(tarball); err != nil {
		if err := downloadWithRetry(p.Tarball.URL, tarball, log); err != nil {
			return false, err
		}
	}
	if p.Tarball.B3 != "" {
		if err := verifyBlake3(tarball, p.Tarball.B3); err != nil {
			os.Remove(tarball)
			return false, err
		}
	}

	log.Infof("Extracting %s...", p.Tarball.File)
	if err := extractTar(tarball, dir); err != nil {
		removeTree(dir)
		return false, err
	}
	if err := flattenSingleRoot(dir); err != nil {
		return false, err
	}
	return true, nil
}

// acquireSource ensures the canonical source tree for a package exists
// and is current, returning whether its content changed since last run.
func acquireSource(exec runner, l *Layout, p *Package, skipUpdates bool, log *Logger) (bool, error) {
	switch {
	case p.Repo != "":
		return gitSync(exec, p.Repo, p.Name, l.RepoDir(p.Name), p.Shallow, skipUpdates, log)
	case p.Tarball != nil:
		return fetchTarball(l, p, skipUpdates, log)
	default:
		// Vendored: the tree must already be present.
		if _, err := os.Stat(l.RepoDir(p.Name)); err != nil {
			return false, fmt.Errorf("vendored source tree for %s is missing", p.Name)
		}
		return false, nil
	}
}
