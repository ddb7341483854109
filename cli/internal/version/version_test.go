package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_Prerelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"0.1.0", false},
		{"v1.2.3", false},
		{"1.0.0-rc.1", true},
		{"dev", true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, Info{Version: tt.version}.Prerelease())
		})
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "1.2.3", Platform: "linux/amd64", GoVersion: "go1.24.1", BuildDate: "today", GitCommit: "abc"}
	assert.Equal(t, "pgtyped version 1.2.3 (linux/amd64 go1.24.1)", info.String())
	assert.Contains(t, info.FullString(), "Git Commit: abc")
}
