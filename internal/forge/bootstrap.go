package forge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Pinned base archive, used when the release probe fails. The probe
// only ever moves us forward to a newer snapshot.
const msys2FallbackURL = "https://repo.msys2.org/distrib/x86_64/msys2-base-x86_64-20251213.tar.xz"

const msys2ReleasesAPI = "https://api.github.com/repos/msys2/msys2-installer/releases/latest"

var msys2Toolchain = []string{
	"mingw-w64-ucrt-x86_64-clang",
	"mingw-w64-ucrt-x86_64-lld",
	"mingw-w64-ucrt-x86_64-cmake",
	"mingw-w64-ucrt-x86_64-ninja",
	"mingw-w64-ucrt-x86_64-meson",
	"mingw-w64-ucrt-x86_64-pkg-config",
	"mingw-w64-ucrt-x86_64-nasm",
	"mingw-w64-ucrt-x86_64-yasm",
	"mingw-w64-ucrt-x86_64-python",
	"mingw-w64-ucrt-x86_64-python-pip",
	"mingw-w64-ucrt-x86_64-gcc",
	"mingw-w64-ucrt-x86_64-autotools",
	"mingw-w64-ucrt-x86_64-vulkan-headers",
	"mingw-w64-ucrt-x86_64-vulkan-loader",
	"mingw-w64-ucrt-x86_64-opencl-headers",
	"mingw-w64-ucrt-x86_64-opencl-icd",
	"mingw-w64-ucrt-x86_64-SDL2",
	"mingw-w64-ucrt-x86_64-libsystre",
	"git", "make", "patch", "diffutils", "texinfo", "bison", "flex",
	"autoconf", "automake", "libtool", "unzip", "zip", "p7zip",
}

// bootstrapMsys2 provisions a private MSYS2 environment under the build
// root. The toolchain install is idempotent; pacman skips what is
// already present.
func bootstrapMsys2(exec runner, layout *Layout, skipUpdates bool, log *Logger) error {
	if !fileExists(layout.Shell()) {
		if err := installMsys2Base(layout, log); err != nil {
			return err
		}
	}

	if err := writeMirrorlists(layout); err != nil {
		return err
	}

	if skipUpdates {
		log.Infof("Skipping MSYS2 system update")
	} else {
		log.Infof("Updating MSYS2...")
		// Run twice: the first pass may replace the core runtime and
		// terminate the shell before finishing.
		for i := 0; i < 2; i++ {
			if _, err := exec.Run(Command{Prog: "pacman", Args: []string{"-Syu", "--noconfirm"}}); err != nil {
				return fmt.Errorf("MSYS2 update failed: %w", err)
			}
		}
	}

	log.Infof("Installing toolchain packages...")
	args := append([]string{"-S", "--noconfirm", "--needed"}, msys2Toolchain...)
	if _, err := exec.Run(Command{Prog: "pacman", Args: args}); err != nil {
		return fmt.Errorf("toolchain install failed: %w", err)
	}

	if _, err := exec.Run(Command{Prog: "pip", Args: []string{"install", "--quiet", "Jinja2"}}); err != nil {
		log.Warnf("Failed to install Jinja2: %v", err)
	}

	if err := importSystemLibs(layout, log); err != nil {
		return err
	}
	return nil
}

// installMsys2Base downloads the base archive and unpacks it into
// <base>/msys2. The archive's top-level msys64 directory is renamed to
// match the layout.
func installMsys2Base(layout *Layout, log *Logger) error {
	url := latestMsys2URL(log)
	tarball := filepath.Join(layout.Tarballs, filepath.Base(url))

	if !fileExists(tarball) {
		log.Infof("Downloading MSYS2 base from %s", url)
		if err := downloadWithRetry(url, tarball, log); err != nil {
			return fmt.Errorf("MSYS2 download failed: %w", err)
		}
	}

	log.Infof("Extracting MSYS2 (this takes a while)...")
	if err := extractTar(tarball, layout.Base); err != nil {
		return fmt.Errorf("MSYS2 extract failed: %w", err)
	}

	unpacked := filepath.Join(layout.Base, "msys64")
	if fileExists(unpacked) {
		if err := os.Rename(unpacked, layout.Msys2); err != nil {
			return fmt.Errorf("failed to rename MSYS2 root: %w", err)
		}
	}
	if !fileExists(layout.Shell()) {
		return fmt.Errorf("MSYS2 shell missing after extraction: %s", layout.Shell())
	}
	return nil
}

// latestMsys2URL asks the installer releases feed for the newest base
// tarball. Any failure falls back to the pinned snapshot.
func latestMsys2URL(log *Logger) string {
	resp, err := httpClient.Get(msys2ReleasesAPI)
	if err != nil {
		log.Warnf("Release probe failed, using pinned MSYS2 snapshot: %v", err)
		return msys2FallbackURL
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warnf("Release probe returned %s, using pinned MSYS2 snapshot", resp.Status)
		return msys2FallbackURL
	}

	var release struct {
		Assets []struct {
			Name        string `json:"name"`
			DownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		log.Warnf("Release probe parse failed, using pinned MSYS2 snapshot: %v", err)
		return msys2FallbackURL
	}
	for _, a := range release.Assets {
		if strings.HasPrefix(a.Name, "msys2-base-x86_64-") && strings.HasSuffix(a.Name, ".tar.xz") {
			return a.DownloadURL
		}
	}
	return msys2FallbackURL
}

func writeMirrorlists(layout *Layout) error {
	etc := filepath.Join(layout.Msys2, "etc", "pacman.d")
	mirrors := map[string]string{
		"mirrorlist.mingw":  "Server = https://mirror.msys2.org/mingw/$repo/\n",
		"mirrorlist.msys":   "Server = https://mirror.msys2.org/msys/$arch/\n",
		"mirrorlist.ucrt64": "Server = https://mirror.msys2.org/mingw/ucrt64/\n",
	}
	for name, body := range mirrors {
		if err := os.WriteFile(filepath.Join(etc, name), []byte(body), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// importSystemLibs copies the handful of system-provided static pieces
// (Vulkan and OpenCL import libs, SDL2) into the install prefix, and
// drops the .dll.a→.a aliases the static link line expects.
func importSystemLibs(layout *Layout, log *Logger) error {
	ucrt := filepath.Join(layout.Msys2, "ucrt64")
	libDir := filepath.Join(layout.Installed, "lib")
	pcDir := layout.PkgconfigDir()
	if err := os.MkdirAll(pcDir, 0o755); err != nil {
		return err
	}

	for _, pc := range []string{"vulkan.pc", "sdl2.pc"} {
		src := filepath.Join(ucrt, "lib", "pkgconfig", pc)
		dst := filepath.Join(pcDir, pc)
		if !fileExists(src) || fileExists(dst) {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to import %s: %w", pc, err)
		}
		if err := patchPC(dst, "", ucrt); err != nil {
			return err
		}
		log.Infof("Imported %s", pc)
	}

	patterns := []string{"libvulkan*.dll.a", "libOpenCL*.dll.a", "libSDL2.a", "libSDL2main.a"}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(filepath.Join(ucrt, "lib", pat))
		for _, src := range matches {
			dst := filepath.Join(libDir, filepath.Base(src))
			if fileExists(dst) {
				continue
			}
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("failed to import %s: %w", filepath.Base(src), err)
			}
			log.Infof("Imported %s", filepath.Base(src))
		}
	}

	// The linker resolves -lvulkan-1 and -lOpenCL against plain .a
	// names once -Bstatic is in effect.
	aliases := map[string]string{
		"libvulkan-1.dll.a": "libvulkan-1.a",
		"libvulkan.dll.a":   "libvulkan.a",
		"libOpenCL.dll.a":   "libOpenCL.a",
	}
	for from, to := range aliases {
		src := filepath.Join(libDir, from)
		dst := filepath.Join(libDir, to)
		if !fileExists(src) || fileExists(dst) {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to alias %s: %w", from, err)
		}
	}
	return nil
}
