package output

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	t.Parallel()

	got := RenderTable(
		[]string{"Step", "Action"},
		[][]string{{"1", "connect"}, {"10"}},
		[]Alignment{AlignRight},
	)
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 6, "top, header, separator, two rows, bottom")
	assert.Contains(t, got, "connect")
	assert.Contains(t, lines[3], "│    1 │", "numbers are right aligned")
	assert.Contains(t, lines[4], "│   10 │")
}

func TestRenderTableWithoutHeaders(t *testing.T) {
	t.Parallel()
	assert.Empty(t, RenderTable(nil, [][]string{{"x"}}, nil))
}
