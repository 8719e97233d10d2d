package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	opts, err := parseArgs(nil)
	require.NoError(t, err)
	assert.False(t, opts.Clean)
	assert.False(t, opts.SkipUpdates)
	assert.False(t, opts.ForceMPV)

	opts, err = parseArgs([]string{"--clean", "--skip-updates", "--force-mpv", "--force-resume"})
	require.NoError(t, err)
	assert.True(t, opts.Clean)
	assert.True(t, opts.SkipUpdates)
	assert.True(t, opts.ForceMPV)
	assert.True(t, opts.ForceResume)
}

func TestParseArgsRejectsUnknown(t *testing.T) {
	_, err := parseArgs([]string{"--jobs=4"})
	assert.ErrorContains(t, err, "unknown argument")

	_, err = parseArgs([]string{"build"})
	assert.ErrorContains(t, err, "unknown argument")

	_, err = parseArgs([]string{"--version"})
	assert.ErrorContains(t, err, "unknown argument")
}
