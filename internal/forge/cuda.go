package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// detectCUDA reports whether a host CUDA toolkit is present. The build
// degrades to a non-CUDA ffmpeg when it is not.
func detectCUDA() (string, bool) {
	path := os.Getenv("CUDA_PATH")
	if path == "" {
		return "", false
	}
	if !fileExists(filepath.Join(path, "bin", "nvcc.exe")) {
		return "", false
	}
	return path, true
}

// importHostCUDA copies the CUDA static runtime and import libraries
// into the prefix under the names the GNU-style link line uses, and
// puts nvcc on PATH for the configure probe.
func importHostCUDA(exec runner, layout *Layout, env map[string]string, cudaPath string, log *Logger) error {
	log.Infof("Importing CUDA toolkit from %s", cudaPath)
	env["PATH"] = env["PATH"] + string(os.PathListSeparator) + filepath.Join(cudaPath, "bin")
	libDir := filepath.Join(layout.Installed, "lib")
	incDir := filepath.Join(layout.Installed, "include")

	srcLib := filepath.Join(cudaPath, "lib", "x64")
	renames := map[string]string{
		"cudart_static.lib": "libcudart.a",
		"cuda.lib":          "libcuda.a",
		"nvrtc.lib":         "libnvrtc.a",
	}
	for from, to := range renames {
		src := filepath.Join(srcLib, from)
		if !fileExists(src) {
			log.Warnf("CUDA library %s not found, skipping", from)
			continue
		}
		if err := copyFile(src, filepath.Join(libDir, to)); err != nil {
			return fmt.Errorf("failed to import %s: %w", from, err)
		}
	}

	if err := sanitizeCudart(exec, layout, log); err != nil {
		return err
	}

	cudaInc := filepath.Join(cudaPath, "include")
	if fileExists(filepath.Join(cudaInc, "cuda.h")) {
		if err := copyDir(cudaInc, incDir); err != nil {
			return fmt.Errorf("failed to import CUDA headers: %w", err)
		}
	}
	return nil
}

// sanitizeCudart strips MSVC linker directives from the static cudart
// archive. The embedded .drectve sections ask for MSVC runtime libs the
// GNU linker cannot satisfy.
func sanitizeCudart(exec runner, layout *Layout, log *Logger) error {
	archive := filepath.Join(layout.Installed, "lib", "libcudart.a")
	if !fileExists(archive) {
		return nil
	}
	log.Infof("Sanitizing libcudart.a...")

	work := filepath.Join(layout.Working, "cudart_sanitize")
	if err := removeTree(work); err != nil {
		return err
	}
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}

	if _, err := exec.Run(Command{Prog: "llvm-ar", Args: []string{"x", msysPath(archive)}, Dir: work}); err != nil {
		return fmt.Errorf("failed to unpack libcudart.a: %w", err)
	}

	objs, err := filepath.Glob(filepath.Join(work, "*.obj"))
	if err != nil {
		return err
	}
	more, _ := filepath.Glob(filepath.Join(work, "*.o"))
	objs = append(objs, more...)
	for _, obj := range objs {
		if _, err := exec.Run(Command{Prog: "llvm-objcopy", Args: []string{"--remove-section=.drectve", msysPath(obj)}, Dir: work}); err != nil {
			return fmt.Errorf("failed to sanitize %s: %w", filepath.Base(obj), err)
		}
	}

	if err := os.Remove(archive); err != nil {
		return err
	}
	args := []string{"rcs", msysPath(archive)}
	for _, obj := range objs {
		args = append(args, msysPath(obj))
	}
	if _, err := exec.Run(Command{Prog: "llvm-ar", Args: args, Dir: work}); err != nil {
		return fmt.Errorf("failed to repack libcudart.a: %w", err)
	}
	return removeTree(work)
}

// importMSVCEnv locates a Visual Studio install via vswhere, runs
// vcvars64.bat, and merges PATH, INCLUDE and LIB into the build
// environment so nvcc can find cl.exe.
func importMSVCEnv(exec runner, env map[string]string, log *Logger) error {
	vswhere := filepath.Join(os.Getenv("ProgramFiles(x86)"), "Microsoft Visual Studio", "Installer", "vswhere.exe")
	if !fileExists(vswhere) {
		return fmt.Errorf("vswhere.exe not found; a Visual Studio install is required for CUDA")
	}

	res, err := exec.Run(Command{Prog: vswhere, Args: []string{
		"-latest", "-products", "*",
		"-requires", "Microsoft.VisualStudio.Component.VC.Tools.x86.x64",
		"-property", "installationPath",
	}})
	if err != nil {
		return fmt.Errorf("vswhere failed: %w", err)
	}
	vsRoot := strings.TrimSpace(res.Stdout)
	if vsRoot == "" {
		return fmt.Errorf("no Visual Studio install with C++ tools found")
	}

	vcvars := filepath.Join(vsRoot, "VC", "Auxiliary", "Build", "vcvars64.bat")
	res, err = exec.Run(Command{Prog: "cmd", Args: []string{"/c", "call", vcvars, ">nul", "&&", "set"}})
	if err != nil {
		return fmt.Errorf("vcvars64.bat failed: %w", err)
	}

	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "INCLUDE", "LIB", "LIBPATH":
			env[strings.ToUpper(key)] = value
		case "PATH":
			// cl.exe must be reachable for nvcc's host compilation.
			env["PATH"] = env["PATH"] + string(os.PathListSeparator) + value
		}
	}
	if env["INCLUDE"] == "" {
		return fmt.Errorf("vcvars64.bat produced no INCLUDE; MSVC environment import failed")
	}
	log.Infof("Imported MSVC environment from %s", vsRoot)
	return nil
}

const vsnprintfShimSrc = `#include <stdio.h>
#include <stdarg.h>

int _vsnprintf(char *buf, size_t n, const char *fmt, va_list ap)
{
    return vsnprintf(buf, n, fmt, ap);
}

int _snprintf(char *buf, size_t n, const char *fmt, ...)
{
    va_list ap;
    va_start(ap, fmt);
    int r = vsnprintf(buf, n, fmt, ap);
    va_end(ap);
    return r;
}
`

// createVsnprintfShim builds the tiny archive that satisfies the MSVC
// underscore-prefixed printf symbols some CUDA objects reference.
func createVsnprintfShim(exec runner, layout *Layout, log *Logger) error {
	libDir := filepath.Join(layout.Installed, "lib")
	archive := filepath.Join(libDir, "libvsnprintf_shim.a")
	if fileExists(archive) {
		return nil
	}
	log.Infof("Creating vsnprintf shim...")

	work := filepath.Join(layout.Working, "vsnprintf_shim")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	src := filepath.Join(work, "vsnprintf_shim.c")
	if err := os.WriteFile(src, []byte(vsnprintfShimSrc), 0o644); err != nil {
		return err
	}

	obj := filepath.Join(work, "vsnprintf_shim.o")
	if _, err := exec.Run(Command{Prog: "gcc", Args: []string{"-O2", "-c", msysPath(src), "-o", msysPath(obj)}, Dir: work}); err != nil {
		return fmt.Errorf("failed to compile vsnprintf shim: %w", err)
	}
	if _, err := exec.Run(Command{Prog: "ar", Args: []string{"rcs", msysPath(archive), msysPath(obj)}, Dir: work}); err != nil {
		return fmt.Errorf("failed to archive vsnprintf shim: %w", err)
	}
	return nil
}
