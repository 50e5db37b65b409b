package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_OverHTTP(t *testing.T) {
	env := newTestEnv(t, brightClassifier{}, Options{})
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL)

	var result envelope
	resp, err := client.R().
		SetHeader("X-Request-ID", "batch-42").
		SetFileReader("images", "one.png", bytes.NewReader(encodePNG(t, 255))).
		SetFileReader("images", "two.png", bytes.NewReader(encodePNG(t, 255))).
		SetFileReader("images", "three.png", bytes.NewReader(encodePNG(t, 0))).
		SetResult(&result).
		Post("/api/v1/moderation/moderation")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "batch-42", resp.Header().Get("X-Request-ID"))
	assert.Equal(t, 0, result.EC)
	assert.Equal(t, "false", result.DT["result"])
	assert.Equal(t, float64(1), result.DT["safe_count"])
	assert.Equal(t, float64(2), result.DT["unsafe_count"])

	var failed envelope
	resp, err = client.R().
		SetFormData(map[string]string{"note": "no files here"}).
		SetError(&failed).
		Post("/api/v1/moderation/moderation")
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, http.StatusBadRequest, failed.EC)
	assert.Equal(t, "No images found in the request", failed.EM)
}
