package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisableStripsCodes(t *testing.T) {
	Disable()
	for _, f := range []func(string) string{ColorPrompt, ColorInfo, ColorWarning, ColorError, ColorReply, ColorMuted} {
		assert.Equal(t, "text", f("text"))
	}
}
