package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"identify/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:     "first forwarded hop wins",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"},
			expected: "203.0.113.7",
		},
		{
			name:     "real ip header",
			headers:  map[string]string{"X-Real-IP": " 198.51.100.4 "},
			expected: "198.51.100.4",
		},
		{
			name:       "remote addr ipv4",
			remoteAddr: "192.0.2.1:5555",
			expected:   "192.0.2.1",
		},
		{
			name:       "remote addr ipv6",
			remoteAddr: "[::1]:5555",
			expected:   "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/identify", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIPFromRequest(r))
		})
	}
}

func TestClientMetadataPopulatesContext(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/identify", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("User-Agent", "probe/1.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Equal(t, "probe/1.0", gotUA)
}

func TestDescribeUserAgent(t *testing.T) {
	assert.Equal(t, "", DescribeUserAgent(""))
	assert.Equal(t, "bot", DescribeUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"))

	chrome := DescribeUserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, chrome, "Chrome")
	assert.Contains(t, chrome, "Linux")
}
