package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceHoldersMissingNode(t *testing.T) {
	assert.Empty(t, deviceHolders(filepath.Join(t.TempDir(), `card9`)))
}

func TestDeviceHoldersFindsSelf(t *testing.T) {
	path := filepath.Join(t.TempDir(), `card0`)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	holders := deviceHolders(path)
	if len(holders) == 0 {
		t.Skip(`open files are not listable here`)
	}
	assert.Contains(t, holders[0], `[`)
}

func TestNewLogger(t *testing.T) {
	defer func(silent bool, logFile string) { silentFlag, logFileFlag = silent, logFile }(silentFlag, logFileFlag)

	silentFlag, logFileFlag = true, ``
	logger, closer, err := newLogger()
	require.NoError(t, err)
	assert.Nil(t, logger)
	assert.Nil(t, closer)

	logFileFlag = filepath.Join(t.TempDir(), `kmsd.log`)
	logger, closer, err = newLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info(`hello`)
	require.NoError(t, closer.Close())
	b, err := os.ReadFile(logFileFlag)
	require.NoError(t, err)
	assert.Contains(t, string(b), `msg=hello`)
}
