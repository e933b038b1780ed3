package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelHookForwardsEntries(t *testing.T) {
	var out bytes.Buffer
	SetOutput(&out)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	ch := make(chan LogEntry, 1)
	SetLogChannel(ch)
	t.Cleanup(func() { SetLogChannel(nil) })

	Info("PROC", "Election block #%d", 42)
	Info("PROC", "dropped when the channel is full")

	require.Len(t, ch, 1)
	entry := <-ch
	assert.Equal(t, "PROC", entry.Component)
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "Election block #42", entry.Message)
	assert.Contains(t, out.String(), "component=PROC")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}
