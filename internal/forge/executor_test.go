package forge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'a b'", shellQuote("a b"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'-DX=$(pwd)'", shellQuote("-DX=$(pwd)"))
}

func TestShellLine(t *testing.T) {
	cmd := Command{Prog: "./configure", Args: []string{"--prefix=/c/x", "--extra-cflags=-O3 -march=native"}}
	assert.Equal(t, "./configure --prefix=/c/x '--extra-cflags=-O3 -march=native'", cmd.shellLine())
}

func TestSplitFlags(t *testing.T) {
	assert.Nil(t, splitFlags(""))
	assert.Equal(t, []string{"-DA=1", "-DB=2"}, splitFlags("-DA=1  -DB=2"))
	assert.Equal(t, []string{"-DB=x y", "z w"}, splitFlags(`-DB="x y" 'z w'`))
	assert.Equal(t, []string{""}, splitFlags(`""`))
}

func TestTailLines(t *testing.T) {
	assert.Equal(t, "", tailLines("   \n", 5))
	assert.Equal(t, "a\nb", tailLines("a\nb", 5))

	many := strings.Repeat("x\n", 80) + "last"
	tail := tailLines(many, 50)
	require.Equal(t, 50, len(strings.Split(tail, "\n")))
	assert.True(t, strings.HasSuffix(tail, "last"))
}

func TestCommandErrorFormat(t *testing.T) {
	err := &CommandError{
		Line:       "make -j8",
		ExitCode:   2,
		StdoutTail: "compiling foo.c",
		Stderr:     "foo.c:1: error",
	}
	msg := err.Error()
	assert.Contains(t, msg, "FAILED (exit 2): make -j8")
	assert.Contains(t, msg, "compiling foo.c")
	assert.Contains(t, msg, "foo.c:1: error")
}
