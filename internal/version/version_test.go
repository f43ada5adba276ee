// ABOUTME: Tests for build identity constants
// ABOUTME: Checks the values shown in logs and the TUI header
package version

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"product", Product},
		{"manufacturer", Manufacturer},
		{"version", Version},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEmpty(t, tt.value)
		})
	}
}

func TestVersionIsSemver(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d+\.\d+$`), Version)
}
