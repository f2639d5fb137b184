package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerLogrusAdapter_LevelMapping(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Errorf("error %s", "x")
	adapter.Warningf("warning %d", 42)
	adapter.Infof("replaying %v", true)
	adapter.Debugf("compaction")

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "error x", entries[0].Message)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, logrus.DebugLevel, entries[2].Level, "badger info is demoted")
	assert.Equal(t, logrus.TraceLevel, entries[3].Level)
}

func TestBadgerLogrusAdapter_InfoHiddenAtInfoLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(logrus.NewEntry(logger))

	adapter.Infof("All 0 tables opened in 0s")
	assert.Empty(t, hook.AllEntries())
}
