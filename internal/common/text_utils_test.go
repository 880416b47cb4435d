package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passes through", "All systems nominal", "All systems nominal"},
		{"plain text is trimmed", "  padded  ", "padded"},
		{"paragraphs become line breaks", "<p>First</p><p>Second</p>", "First\nSecond"},
		{"inline markup is dropped", "<p>The <strong>primary</strong> is down</p>", "The primary is down"},
		{"list items break lines", "<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}
