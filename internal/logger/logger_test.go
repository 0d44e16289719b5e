package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebug_WhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.Debug("test message %s", "arg")

	assert.Contains(t, buf.String(), "[DEBUG] test message arg")
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)

	l.Debug("test message")

	assert.Zero(t, buf.Len())
}

func TestWith_NestsTags(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false).With("run").With("graph")

	l.Warn("slow page")

	out := buf.String()
	assert.Contains(t, out, "[WARN] [run:graph] slow page")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, false)
	_ = parent.With("child")

	parent.Info("hello")

	assert.Contains(t, buf.String(), "[INFO] hello")
	assert.NotContains(t, buf.String(), "child")
}
