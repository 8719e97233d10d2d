package forge

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// removeTree deletes a directory tree, retrying with permissions forced
// open. Windows keeps transient locks on freshly written build outputs
// (antivirus, indexer), so a single RemoveAll is not reliable there.
func removeTree(path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = os.RemoveAll(path); err == nil {
			return nil
		}
		// Read-only attributes block deletion; clear them and retry.
		filepath.Walk(path, func(p string, info os.FileInfo, werr error) error {
			if werr == nil && info != nil {
				os.Chmod(p, 0o777)
			}
			return nil
		})
		time.Sleep(200 * time.Millisecond)
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	// Copy file mode
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

// copyDir recursively copies a directory from src to dst
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		} else {
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}

	return nil
}

// flattenSingleRoot lifts the children of dir's sole subdirectory up
// into dir itself, so build tooling sees sources at a stable path no
// matter how the archive named its top-level directory.
func flattenSingleRoot(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	root := filepath.Join(dir, entries[0].Name())
	inner, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range inner {
		dst := filepath.Join(dir, e.Name())
		if err := removeTree(dst); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(root, e.Name()), dst); err != nil {
			return err
		}
	}
	return os.Remove(root)
}
