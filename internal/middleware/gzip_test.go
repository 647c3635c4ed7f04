package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("received: " + string(body)))
}

func gzipped(t *testing.T, s string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	type want struct {
		statusCode      int
		contentEncoding string
		contentType     string
		bodyContains    string
	}

	tests := []struct {
		name        string
		requestBody string
		compressed  bool
		headers     map[string]string
		want        want
	}{
		{
			name:        "client accepts gzip, json review",
			requestBody: `{"url":"https://example.com/r/1"}`,
			headers: map[string]string{
				"Accept-Encoding": "gzip",
				"Content-Type":    "application/json",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "gzip",
				contentType:     "application/json",
				bodyContains:    `received: {"url":"https://example.com/r/1"}`,
			},
		},
		{
			name:        "client does not accept gzip",
			requestBody: `{"format":"EBOOK"}`,
			headers: map[string]string{
				"Content-Type": "application/json",
			},
			want: want{
				statusCode:   http.StatusOK,
				contentType:  "application/json",
				bodyContains: `received: {"format":"EBOOK"}`,
			},
		},
		{
			name:        "compressed request body",
			requestBody: `{"approved":true}`,
			compressed:  true,
			headers: map[string]string{
				"Content-Encoding": "gzip",
				"Accept-Encoding":  "gzip",
				"Content-Type":     "application/json",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "gzip",
				contentType:     "application/json",
				bodyContains:    `received: {"approved":true}`,
			},
		},
		{
			name:        "corrupt compressed body",
			requestBody: "definitely not gzip",
			headers: map[string]string{
				"Content-Encoding": "gzip",
			},
			want: want{
				statusCode:   http.StatusBadRequest,
				contentType:  "text/plain; charset=utf-8",
				bodyContains: "Bad Request",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.requestBody)
			if tt.compressed {
				body = gzipped(t, tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/test", body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			require.Equal(t, tt.want.statusCode, res.StatusCode)
			assert.Equal(t, tt.want.contentType, res.Header.Get("Content-Type"))
			assert.Equal(t, tt.want.contentEncoding, res.Header.Get("Content-Encoding"))

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			}
			data, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Contains(t, string(data), tt.want.bodyContains)
		})
	}
}

func TestGzipRequestBodyIsStreamed(t *testing.T) {
	var (
		isGzipReader bool
		got          string
	)
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isGzipReader = r.Body.(*gzip.Reader)
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		got = string(data)
		assert.Empty(t, r.Header.Get("Content-Encoding"))
		assert.Equal(t, int64(-1), r.ContentLength)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/assignments/1/review", gzipped(t, `{"reviewUrl":"https://example.com/r/1"}`))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, isGzipReader)
	assert.Equal(t, `{"reviewUrl":"https://example.com/r/1"}`, got)
}
