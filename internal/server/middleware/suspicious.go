package middleware

import "strings"

// suspiciousPatterns are substrings whose presence in a path or query string
// marks the request as probing or injection traffic.
var suspiciousPatterns = []string{
	"../../",        // path traversal
	"../etc/passwd", // path traversal
	"select",        // SQL injection
	"<script",       // script injection
}

// IsSuspicious reports whether the path or serialized query string contains a
// known attack signature. Matching is case-insensitive. Stateless and safe
// for concurrent use.
func IsSuspicious(path, query string) bool {
	path = strings.ToLower(path)
	query = strings.ToLower(query)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(path, pattern) || strings.Contains(query, pattern) {
			return true
		}
	}
	return false
}
