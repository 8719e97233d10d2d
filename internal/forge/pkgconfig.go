package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Import libraries that are intentionally dynamic and must survive the
// sweep: GPU loaders cannot be statically linked on Windows, the CUDA
// runtime import and the shim are ours.
var keepImportLibs = []string{
	"libvulkan-1.dll.a",
	"libOpenCL.dll.a",
	"libcudart.a",
	"libSDL2.a",
	"libvsnprintf_shim.a",
}

// Artifacts that upstream installs must never leave in the prefix: they
// make the linker prefer a dynamic or conflicting variant.
var purgeAlways = []string{
	"libz.dll.a",
	"libstdc++.dll.a",
	"libgcc_s.dll.a",
	"libSDL2main.a",
}

// staticLibNames maps a package name to the basename of the library it
// installs, where the two differ.
var staticLibNames = map[string]string{
	"bzip2":         "bz2",
	"gettext":       "intl",
	"xz":            "lzma",
	"libiconv":      "iconv",
	"spirv-headers": "SPIRV-Headers",
	"spirv-tools":   "SPIRV-Tools",
	"libepoxy":      "epoxy",
	"libass":        "ass",
	"zlib":          "z",
	"libpng":        "png",
	"libjpeg-turbo": "jpeg",
	"libsoxr":       "soxr",
	"fftw":          "fftw3",
	"libsamplerate": "samplerate",
	"libdvdcss":     "dvdcss",
	"libdvdread":    "dvdread",
	"libdvdnav":     "dvdnav",
	"libbluray":     "bluray",
	"libarchive":    "archive",
}

// extraPurgePatterns lists additional archives a package is known to
// install beyond its primary library name.
var extraPurgePatterns = map[string][]string{
	"shaderc":       {"libshaderc*.a"},
	"glslang":       {"libGenericCodeGen.a", "libMachineIndependent.a", "libOGLCompiler.a", "libOSDependent.a", "libHLSL.a"},
	"spirv-tools":   {"libSPIRV-Tools*.a"},
	"spirv-cross":   {"libspirv-cross*.a"},
	"libjpeg-turbo": {"libturbojpeg.a", "libjpeg.a"},
}

const sdl2ExtraLibs = "-lmingw32 -lSDL2 -mwindows -lsetupapi -lwinmm -limm32 -lole32 -loleaut32 -lversion -luuid -ladvapi32 -lshell32 -luser32 -lgdi32"

// patchPC rewrites an installed pkg-config file so a static consumer
// can link against it. Applying it twice yields byte-identical output.
func patchPC(path, extraLibs, msysUcrt64 string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c := string(data)

	// Upstream MSYS2 .pc files carry the container-relative prefix.
	if msysUcrt64 != "" && strings.Contains(c, "prefix=/ucrt64") {
		c = strings.ReplaceAll(c, "prefix=/ucrt64", "prefix="+msysPath(msysUcrt64))
	}

	if strings.Contains(strings.ToLower(filepath.Base(path)), "sdl2.pc") {
		// SDL2main provides its own main and conflicts with mpv's.
		c = strings.ReplaceAll(c, "-lSDL2main", "")
		switch {
		case strings.Contains(c, "Libs.private:"):
			if !strings.Contains(c, "-lsetupapi") {
				c = strings.Replace(c, "Libs.private:", "Libs.private: "+sdl2ExtraLibs, 1)
			}
		case strings.Contains(c, "Libs:"):
			if !strings.Contains(c, "-lsetupapi") {
				c = strings.Replace(c, "Libs:", "Libs: "+sdl2ExtraLibs, 1)
			}
		}
	}

	// A .pc with no libs field at all (some header-mostly packages)
	// still needs one, or the flag appends below have no home.
	hasLibsField := false
	for _, line := range strings.Split(c, "\n") {
		if strings.HasPrefix(line, "Libs:") || strings.HasPrefix(line, "Libs.private:") {
			hasLibsField = true
			break
		}
	}
	if !hasLibsField {
		if c != "" && !strings.HasSuffix(c, "\n") {
			c += "\n"
		}
		c += "Libs: -L${libdir}\n"
	}

	// The shim must come last on every link line so its symbols resolve
	// the MSVC names referenced by CUDA objects.
	if !strings.Contains(c, "-lvsnprintf_shim") {
		lines := strings.Split(c, "\n")
		for i, line := range lines {
			if strings.HasPrefix(line, "Libs.private:") || strings.HasPrefix(line, "Libs:") {
				lines[i] = strings.TrimRight(line, " \t") + " -lvsnprintf_shim"
			}
		}
		c = strings.Join(lines, "\n")
	}

	if extraLibs != "" && !strings.Contains(c, extraLibs) {
		lines := strings.Split(c, "\n")
		for i, line := range lines {
			if strings.HasPrefix(line, "Libs.private:") || strings.HasPrefix(line, "Libs:") {
				if !strings.Contains(line, extraLibs) {
					lines[i] = strings.TrimRight(line, " \t") + " " + extraLibs
				}
			}
		}
		c = strings.Join(lines, "\n")
	}

	// Static builds must not request dynamic-loading support.
	c = strings.ReplaceAll(c, "-ldl", "")

	if err := os.WriteFile(path, []byte(c), 0o644); err != nil {
		return err
	}
	return nil
}

// createPC synthesizes a complete pkg-config file for packages whose
// build system does not produce one, or whose produced file is being
// deliberately replaced. A stale lib64 twin is dropped so pkg-config
// cannot pick up the wrong copy.
func createPC(installed, prefix, name, ver, desc, libs, reqs, cflags string) error {
	if cflags == "" {
		cflags = "-I${includedir}"
	}
	pcDir := filepath.Join(installed, "lib", "pkgconfig")
	if err := os.MkdirAll(pcDir, 0o755); err != nil {
		return err
	}
	os.Remove(filepath.Join(installed, "lib64", "pkgconfig", name+".pc"))

	c := fmt.Sprintf(`prefix=%s
exec_prefix=${prefix}
libdir=${exec_prefix}/lib
includedir=${prefix}/include

Name: %s
Description: %s
Version: %s
Requires.private: %s
Libs: -L${libdir} %s
Cflags: %s
`, prefix, name, desc, ver, reqs, libs, cflags)
	return os.WriteFile(filepath.Join(pcDir, name+".pc"), []byte(c), 0o644)
}

// removePackageArtifacts purges every previously installed archive and
// pkg-config file belonging to a package before it rebuilds. Leaving
// old naming behind lets the linker pick a stale artifact and mask a
// broken install.
func removePackageArtifacts(installed, name string, log *Logger) {
	ln := name
	if mapped, ok := staticLibNames[name]; ok {
		ln = mapped
	}

	patterns := []string{"lib" + ln + "*.a", ln + "*.a"}
	patterns = append(patterns, extraPurgePatterns[name]...)

	for _, libDir := range []string{"lib", "lib64"} {
		p := filepath.Join(installed, libDir)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		for _, pat := range patterns {
			matches, _ := filepath.Glob(filepath.Join(p, pat))
			for _, f := range matches {
				if os.Remove(f) == nil {
					log.Infof("Cleaned %s/%s", libDir, filepath.Base(f))
				}
			}
		}
		matches, _ := filepath.Glob(filepath.Join(p, "pkgconfig", "*"+ln+"*.pc"))
		for _, f := range matches {
			if os.Remove(f) == nil {
				log.Infof("Cleaned %s/pkgconfig/%s", libDir, filepath.Base(f))
			}
		}
	}
}

// sweepImportLibs deletes accidentally installed dynamic import stubs
// and libtool files across the whole prefix, keeping only the
// allow-listed intentionally dynamic artifacts.
func sweepImportLibs(installed string, log *Logger) {
	keep := make(map[string]bool, len(keepImportLibs))
	for _, k := range keepImportLibs {
		keep[k] = true
	}

	for _, libDir := range []string{"lib", "lib64"} {
		p := filepath.Join(installed, libDir)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		for _, ext := range []string{"*.dll.a", "*.la"} {
			matches, _ := filepath.Glob(filepath.Join(p, ext))
			for _, f := range matches {
				if keep[filepath.Base(f)] {
					continue
				}
				if os.Remove(f) == nil {
					log.Infof("Purged %s", filepath.Base(f))
				}
			}
		}
	}

	for _, bad := range purgeAlways {
		f := filepath.Join(installed, "lib", bad)
		if _, err := os.Stat(f); err == nil {
			if os.Remove(f) == nil {
				log.Infof("Purged aggressive target: %s", bad)
			}
		}
	}
}
