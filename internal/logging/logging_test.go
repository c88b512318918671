package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_EmptyFileIsNop(t *testing.T) {
	logger, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("discarded")
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "concierge.log")
	logger, err := New(Options{Level: "info", File: path})
	require.NoError(t, err)

	logger.Info("hello")
	logger.Debug("below level")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	require.True(t, strings.Contains(text, `"msg":"hello"`), text)
	require.False(t, strings.Contains(text, "below level"))
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.log")
	logger, err := New(Options{Level: "loud", File: path})
	require.NoError(t, err)
	logger.Info("visible")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "visible")
}
