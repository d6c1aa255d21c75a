package scheduler

import (
	"bytes"
	"os"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"

	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/logging"
)

func TestCronPanicIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupWriter(config.LogConfig{}, &buf)
	t.Cleanup(func() { logging.SetupWriter(config.LogConfig{}, os.Stderr) })

	job := cron.NewChain(cron.Recover(cronLogger{})).Then(cron.FuncJob(func() { panic("tick exploded") }))
	assert.NotPanics(t, job.Run)

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"component":"cron"`)
	assert.Contains(t, out, "tick exploded")
	assert.Contains(t, out, `"stack"`)
}

func TestCronInfoIsDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	logging.SetupWriter(config.LogConfig{}, &buf)
	t.Cleanup(func() { logging.SetupWriter(config.LogConfig{}, os.Stderr) })

	cronLogger{}.Info("skip", "entry", 1)
	assert.Empty(t, buf.String())

	logging.SetupWriter(config.LogConfig{Level: "debug"}, &buf)
	cronLogger{}.Info("skip", "entry", 1)
	assert.Contains(t, buf.String(), `"entry":1`)
}
