package resource

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUniqueFirstWordsDedupes(t *testing.T) {
	words := uniqueFirstWords("qdbus foo", "qdbus bar", "xfconf-query baz")
	assert.Equal(t, []string{"qdbus", "xfconf-query"}, words)
}

func TestSingleLineCollapsesNewlines(t *testing.T) {
	assert.Equal(t, "a b c", singleLine("a\nb\nc"))
}

func TestGetWindowCompositorByNameDispatch(t *testing.T) {
	log := zerolog.Nop()

	assert.Nil(t, GetWindowCompositorByName("", log))
	assert.Nil(t, GetWindowCompositorByName("gnome-shell", log))

	assert.Equal(t, "KWin", GetWindowCompositorByName("KWin", log).Name())
	assert.Equal(t, "Xfwm4", GetWindowCompositorByName("xfwm4", log).Name())
	assert.Equal(t, "Marco", GetWindowCompositorByName("marco", log).Name())
	assert.Equal(t, "Compiz", GetWindowCompositorByName("compiz", log).Name())
	assert.Equal(t, "Nvidia", GetWindowCompositorByName("nvidia", log).Name())
}

func TestGetWindowCompositorByNamePicomAndCompton(t *testing.T) {
	log := zerolog.Nop()
	assert.Equal(t, "Picom", GetWindowCompositorByName("picom", log).Name())
	assert.Equal(t, "Compton", GetWindowCompositorByName("compton", log).Name())
}

func TestCliCompositorCanBeManagedReportsMissingBinary(t *testing.T) {
	c := &cliCompositor{
		name:        "Fake",
		enableCmd:   "definitely-not-a-real-binary-xyz on",
		disableCmd:  "definitely-not-a-real-binary-xyz off",
		isEnableCmd: "definitely-not-a-real-binary-xyz status",
	}
	ok, reason := c.CanBeManaged()
	assert.False(t, ok)
	assert.Contains(t, reason, "not installed")
}
