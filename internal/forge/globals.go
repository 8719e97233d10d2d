package forge

import (
	"github.com/gookit/color"
)

// Global variables
var (
	Debug     bool
	Verbose   bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// Executables that survive the final bin/ cleanup. Everything else
// installed into installed/bin by intermediate packages gets removed.
var finalBinaries = []string{"mpv.exe", "mpv.com", "ffmpeg.exe", "ffplay.exe", "ffprobe.exe"}

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		colInfo.Printf(format, args...)
	}
}
