package debug

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitWriter(t *testing.T) {
	t.Cleanup(func() { Init(false) })

	var buf bytes.Buffer
	InitWriter(true, &buf)
	assert.True(t, Enabled())

	Component("preparer", nil).Debug("cache miss", "fingerprint", "abc")
	assert.Contains(t, buf.String(), "component=preparer")
	assert.Contains(t, buf.String(), "fingerprint=abc")

	buf.Reset()
	InitWriter(false, &buf)
	Error("should be dropped")
	assert.Empty(t, buf.String())
	assert.False(t, Enabled())
}
