// Package buildinfo carries build-time metadata injected with -ldflags.
package buildinfo

import "fmt"

// UnknownValue stands in for metadata the build did not set.
const UnknownValue = "unknown"

// Set by -ldflags "-X github.com/tphakala/cmsbridge/internal/buildinfo.version=...".
var (
	version   string
	buildDate string
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	Version   string
	BuildDate string
}

// NewContext creates a Context.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// Current returns the metadata linked into this binary.
func Current() *Context {
	return NewContext(version, buildDate)
}

// GetVersion returns the version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release is the identifier reported to error telemetry.
func (c *Context) Release() string {
	return "cmsbridge@" + c.GetVersion()
}

func (c *Context) String() string {
	return fmt.Sprintf("cmsbridge %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
