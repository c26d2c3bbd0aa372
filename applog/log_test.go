package applog_test

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marketclock/reminder-engine/applog"
)

func TestLogger_KeyValueLinesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	applog.SetOutput(&buf)
	defer applog.SetOutput(os.Stderr)
	defer applog.SetLevel(applog.LevelInfo)

	applog.SetLevel(applog.LevelInfo)
	applog.Debug("hidden", "k", 1)
	applog.Info("dispatch tick", "fired", 7)
	applog.Error("send failed", errors.New("boom"), "channel", "push")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="dispatch tick" fired=7`)
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "err=boom channel=push")

	buf.Reset()
	applog.SetLevel("debug")
	applog.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
