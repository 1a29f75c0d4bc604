package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Version(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "empty version", ctx: NewContext("", "2024-01-01"), want: UnknownValue},
		{name: "valid version", ctx: NewContext("1.2.0", "2024-01-01"), want: "1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.GetVersion())
		})
	}
}

func TestContext_Strings(t *testing.T) {
	t.Parallel()

	c := NewContext("1.2.0", "")
	assert.Equal(t, UnknownValue, c.GetBuildDate())
	assert.Equal(t, "cmsbridge@1.2.0", c.Release())
	assert.Equal(t, "cmsbridge 1.2.0 (built unknown)", c.String())
}
