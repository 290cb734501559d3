package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuspicious(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		want  bool
	}{
		{"path traversal", "/x/../../etc/passwd", "", true},
		{"traversal in query", "/files", "name=../../secret", true},
		{"sql keyword in query", "/x", "q=SELECT * FROM t", true},
		{"sql keyword lowercase", "/x", "q=select id from users", true},
		{"script tag in query", "/x", "p=<script>alert(1)</script>", true},
		{"script tag mixed case", "/x", "p=<ScRiPt>", true},
		{"clean health path", "/api/health", "", false},
		{"clean analyze path", "/api/v1/analyze", "language=en", false},
		{"empty", "", "", false},
		{"single parent dir", "/a/../b", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSuspicious(tt.path, tt.query))
		})
	}
}
