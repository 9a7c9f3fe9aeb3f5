package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"first forwarded entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"forwarded trimmed", map[string]string{"X-Forwarded-For": "  198.51.100.2 "}, "198.51.100.2"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "10.1.1.1"}, "203.0.113.7"},
		{"empty forwarded entry falls through", map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "10.1.1.1"}, "10.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": " 10.1.1.1 "}, "10.1.1.1"},
		{"no headers", nil, UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/rankings", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientKey(req))
		})
	}

	assert.Equal(t, UnknownClient, ClientKey(nil))
}
