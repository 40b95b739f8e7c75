package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		baseDir  string
		expected string
	}{
		{name: "empty path", path: "", baseDir: "/base", expected: ""},
		{name: "empty base", path: "rel", baseDir: "", expected: "rel"},
		{name: "absolute unchanged", path: "/abs/logs", baseDir: "/base", expected: "/abs/logs"},
		{name: "relative resolved", path: ".querylens/sessions", baseDir: "/base", expected: "/base/.querylens/sessions"},
		{name: "parent reference", path: "../logs", baseDir: "/base/sub", expected: "/base/logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.expected), ResolvePath(tt.path, tt.baseDir))
		})
	}
}
