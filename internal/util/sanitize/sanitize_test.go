package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"empty", "", 100, ""},
		{"normal", "Dishwasher finished", 100, "Dishwasher finished"},
		{"with control chars", "Dish\x00washer\x07", 100, "Dishwasher"},
		{"truncate", "very long title", 8, "very lon"},
		{"trim whitespace", "  hello  ", 100, "hello"},
		{"unicode", "食洗機が終わった", 100, "食洗機が終わった"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Text(tt.input, tt.maxLen)
			assert.Equal(t, tt.want, got, "Text(%q, %d)", tt.input, tt.maxLen)
		})
	}
}
