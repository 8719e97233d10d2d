package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// buildContext carries what every build adapter needs: the command
// runner, the directory layout and the parallelism to hand to ninja
// and make.
type buildContext struct {
	exec   runner
	layout *Layout
	log    *Logger
	jobs   int
}

func (b *buildContext) expand(tmpl string) string {
	return strings.ReplaceAll(tmpl, "{pre}", b.layout.Prefix())
}

func (b *buildContext) jobsFor(p *Package) int {
	if p.Jobs > 0 {
		return p.Jobs
	}
	return b.jobs
}

// run executes the given steps in order, stopping on the first failure.
func (b *buildContext) run(dir string, cmds ...Command) error {
	for _, c := range cmds {
		c.Dir = dir
		if _, err := b.exec.Run(c); err != nil {
			return err
		}
	}
	return nil
}

// dispatch builds one package in its disposable working copy using the
// adapter matching its declared build kind, then applies the
// package-specific post-install fixups. Fixup failures are logged and
// swallowed: a missing cosmetic patch is recoverable on the next full
// rebuild, an aborted run blocks every downstream package.
func (b *buildContext) dispatch(p *Package, dir string) error {
	if fix, ok := preBuildFixups[p.Name]; ok {
		if err := fix(b, dir); err != nil {
			return fmt.Errorf("pre-build fixup for %s failed: %w", p.Name, err)
		}
	}

	var err error
	switch p.Kind {
	case kindCMake:
		err = b.buildCMake(p, dir)
	case kindMeson:
		err = b.buildMeson(p, dir)
	case kindAutotools:
		err = b.buildAutotools(p, dir)
	case kindMake:
		err = b.buildMake(p, dir)
	case kindLuaJIT:
		err = b.buildLuaJIT(p, dir)
	case kindHeaderOnly:
		// Source-only: nothing to configure or compile.
	default:
		err = fmt.Errorf("unknown build kind %q for %s", p.Kind, p.Name)
	}
	if err != nil {
		return err
	}

	if fix, ok := postBuildFixups[p.Name]; ok {
		if ferr := fix(b, dir); ferr != nil {
			b.log.Warnf("Post-build fixup for %s failed: %v", p.Name, ferr)
		}
	}
	return nil
}

func (b *buildContext) cmakeBaseArgs() []string {
	pre := b.layout.Prefix()
	return []string{
		"-DBUILD_SHARED_LIBS=OFF",
		"-DCMAKE_INSTALL_PREFIX=" + pre,
		"-DCMAKE_PREFIX_PATH=" + pre,
		"-DCMAKE_INSTALL_LIBDIR=lib",
	}
}

func (b *buildContext) buildCMake(p *Package, dir string) error {
	args := append([]string{"-B", "build", "-G", "Ninja"}, b.cmakeBaseArgs()...)
	args = append(args, splitFlags(b.expand(p.Flags))...)
	args = append(args, ".")
	jobs := fmt.Sprintf("-j%d", b.jobsFor(p))
	return b.run(dir,
		Command{Prog: "cmake", Args: args},
		Command{Prog: "ninja", Args: []string{"-C", "build", jobs}},
		Command{Prog: "ninja", Args: []string{"-C", "build", "install"}},
	)
}

func (b *buildContext) buildMeson(p *Package, dir string) error {
	pre := b.layout.Prefix()
	args := []string{
		"setup", "build", ".",
		"--prefix=" + pre,
		"--buildtype=release",
		"-Ddefault_library=static",
		"--pkg-config-path=" + pre + "/lib/pkgconfig",
		// lld rejects dynamic fallbacks; force the static runtime in.
		"-Dc_link_args=-static -lintl -liconv",
		"-Dcpp_link_args=-static -lintl -liconv",
	}
	args = append(args, splitFlags(b.expand(p.Flags))...)
	jobs := fmt.Sprintf("-j%d", b.jobsFor(p))
	return b.run(dir,
		Command{Prog: "meson", Args: args},
		Command{Prog: "ninja", Args: []string{"-C", "build", jobs}},
		Command{Prog: "ninja", Args: []string{"-C", "build", "install"}},
	)
}

func (b *buildContext) buildAutotools(p *Package, dir string) error {
	// Checkout without a generated configure script needs a bootstrap.
	if _, err := os.Stat(filepath.Join(dir, "configure")); err != nil {
		switch {
		case fileExists(filepath.Join(dir, "autogen.sh")):
			b.log.Infof("Running autogen.sh...")
			if err := b.run(dir, Command{Prog: "./autogen.sh"}); err != nil {
				return err
			}
		case fileExists(filepath.Join(dir, "configure.ac")):
			b.log.Infof("Running autoreconf -i...")
			if err := b.run(dir, Command{Prog: "autoreconf", Args: []string{"-i"}}); err != nil {
				return err
			}
		}
	}

	args := []string{`--prefix=` + b.layout.Prefix(), "--enable-static", "--disable-shared"}
	args = append(args, splitFlags(b.expand(p.Flags))...)
	jobs := fmt.Sprintf("-j%d", b.jobsFor(p))
	return b.run(dir,
		Command{Prog: "./configure", Args: args},
		Command{Prog: "make", Args: []string{jobs}},
		Command{Prog: "make", Args: []string{"install"}},
	)
}

func (b *buildContext) buildMake(p *Package, dir string) error {
	flags := splitFlags(b.expand(p.Flags))
	jobs := fmt.Sprintf("-j%d", b.jobsFor(p))
	return b.run(dir,
		Command{Prog: "make", Args: append([]string{jobs}, flags...)},
		Command{Prog: "make", Args: append([]string{"install"}, flags...)},
	)
}

// buildLuaJIT drives LuaJIT's hand-rolled Makefile. The Makefile
// defaults to dynamic mode on Windows; BUILDMODE=static is required
// for embedding into mpv.
func (b *buildContext) buildLuaJIT(p *Package, dir string) error {
	pre := b.layout.Prefix()
	jobs := fmt.Sprintf("-j%d", b.jobsFor(p))
	return b.run(dir,
		Command{Prog: "make", Args: []string{"-C", "src", "BUILDMODE=static", "PREFIX=" + pre, jobs}},
		Command{Prog: "make", Args: []string{"install", "PREFIX=" + pre, "BUILDMODE=static"}},
	)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// moveChildrenUp lifts the contents of dir/sub into dir, replacing any
// conflicting entries.
func moveChildrenUp(dir, sub string) error {
	src := filepath.Join(dir, sub)
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if err := removeTree(dst); err != nil {
			return err
		}
		if err := os.Rename(filepath.Join(src, e.Name()), dst); err != nil {
			return err
		}
	}
	return os.Remove(src)
}

// preBuildFixups run in the working copy before the adapter. These are
// build-critical and abort the package on failure.
var preBuildFixups = map[string]func(b *buildContext, dir string) error{
	// The expat repository nests the real project one level down.
	"expat": func(b *buildContext, dir string) error {
		if fileExists(filepath.Join(dir, "CMakeLists.txt")) {
			return nil
		}
		if !fileExists(filepath.Join(dir, "expat")) {
			return nil
		}
		return moveChildrenUp(dir, "expat")
	},
	// shaderc expects its dependency sources vendored in third_party/.
	"shaderc": func(b *buildContext, dir string) error {
		tp := filepath.Join(dir, "third_party")
		for _, sub := range []string{"glslang", "spirv-tools", "spirv-headers"} {
			if err := copyDir(b.layout.RepoDir(sub), filepath.Join(tp, sub)); err != nil {
				return err
			}
		}
		return nil
	},
}

// postBuildFixups repair package metadata the upstream install step got
// wrong for static consumers. They are best-effort by policy.
var postBuildFixups = map[string]func(b *buildContext, dir string) error{
	"rubberband": func(b *buildContext, _ string) error {
		pc := filepath.Join(b.layout.PkgconfigDir(), "rubberband.pc")
		data, err := os.ReadFile(pc)
		if err != nil {
			return err
		}
		c := string(data)
		if strings.Contains(c, "-lstdc++") {
			return nil
		}
		c = strings.ReplaceAll(c, "-lrubberband", "-lrubberband -lstdc++")
		if err := os.WriteFile(pc, []byte(c), 0o644); err != nil {
			return err
		}
		b.log.Infof("FIX: Patched rubberband.pc with -lstdc++")
		return nil
	},
	// Upstream's libarchive.pc lists dynamic deps; a static consumer
	// needs every transitive archive spelled out with absolute paths.
	"libarchive": func(b *buildContext, _ string) error {
		pre := b.layout.Prefix()
		msysLib := msysPath(filepath.Join(b.layout.Msys2, "ucrt64", "lib"))
		c := fmt.Sprintf(`prefix=%s
exec_prefix=${prefix}
libdir=${exec_prefix}/lib
includedir=${prefix}/include

Name: libarchive
Description: library that can create and read several streaming archive formats
Version: 3.9.0
Cflags: -I${includedir}
Cflags.private: -DLIBARCHIVE_STATIC
Libs: %s/lib/libarchive.a %s/libz.a %s/liblzma.a %s/libbz2.a %s/libiconv.a %s/libbcrypt.a %s/libzstd.a
`, pre, pre, msysLib, msysLib, msysLib, msysLib, msysLib, msysLib)
		if err := os.WriteFile(filepath.Join(b.layout.PkgconfigDir(), "libarchive.pc"), []byte(c), 0o644); err != nil {
			return err
		}
		b.log.Infof("FIX: Patched libarchive.pc with absolute static lib paths")
		return nil
	},
	// mpv's build probes spirv-cross-c-shared; synthesize one that
	// links the full static family instead.
	"spirv-cross": func(b *buildContext, _ string) error {
		pre := b.layout.Prefix()
		c := fmt.Sprintf(`prefix=%s
exec_prefix=${prefix}
libdir=${prefix}/lib
includedir=${prefix}/include/spirv_cross

Name: spirv-cross-c-shared
Description: C API for SPIRV-Cross (static linking with all dependencies)
Version: 0.68.0

Requires:
Libs: -L${libdir} -lspirv-cross-c -lspirv-cross-glsl -lspirv-cross-hlsl -lspirv-cross-msl -lspirv-cross-cpp -lspirv-cross-reflect -lspirv-cross-util -lspirv-cross-core -lstdc++
Cflags: -I${includedir}
`, pre)
		if err := os.WriteFile(filepath.Join(b.layout.PkgconfigDir(), "spirv-cross-c-shared.pc"), []byte(c), 0o644); err != nil {
			return err
		}
		b.log.Infof("FIX: Created spirv-cross-c-shared.pc with all static deps")
		return nil
	},
	"shaderc": func(b *buildContext, _ string) error {
		pc := filepath.Join(b.layout.PkgconfigDir(), "shaderc.pc")
		data, err := os.ReadFile(pc)
		if err != nil {
			return err
		}
		c := string(data)
		if !strings.Contains(c, "-lshaderc_shared") {
			return nil
		}
		c = strings.ReplaceAll(c, "-lshaderc_shared", "-lshaderc_combined")
		if err := os.WriteFile(pc, []byte(c), 0o644); err != nil {
			return err
		}
		b.log.Infof("FIX: Patched shaderc.pc to use shaderc_combined")
		return nil
	},
	"luajit": func(b *buildContext, _ string) error {
		pc := filepath.Join(b.layout.PkgconfigDir(), "luajit.pc")
		data, err := os.ReadFile(pc)
		if err != nil {
			return err
		}
		c := strings.ReplaceAll(string(data), "Libs.private: -Wl,-E -lm -ldl", "Libs.private:")
		if err := os.WriteFile(pc, []byte(c), 0o644); err != nil {
			return err
		}
		b.log.Infof("FIX: Removed Linux-specific flags from luajit.pc")
		return nil
	},
}
