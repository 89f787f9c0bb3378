package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadReturnsSecureURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "unsigned", r.FormValue("upload_preset"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "id.png", header.Filename)
		assert.Equal(t, "png-bytes", string(body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"public_id":  "abc",
			"secure_url": "https://res.cloudinary.com/demo/image/upload/abc.png",
			"bytes":      9,
		})
	}))
	defer server.Close()

	u := NewUploader(config.ObjectStoreConfig{
		BaseURL:      server.URL,
		CloudName:    "demo",
		UploadPreset: "unsigned",
		Timeout:      time.Second,
	})
	url, err := u.Upload(context.Background(), "id.png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/abc.png", url)
}

func TestUploadErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "broken") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid image file"}}`))
	}))
	defer server.Close()

	u := NewUploader(config.ObjectStoreConfig{BaseURL: server.URL, CloudName: "demo", UploadPreset: "p"})
	_, err := u.Upload(context.Background(), "doc.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Contains(t, err.Error(), "Invalid image file")

	u = NewUploader(config.ObjectStoreConfig{BaseURL: server.URL, CloudName: "broken", UploadPreset: "p"})
	_, err = u.Upload(context.Background(), "doc.png", strings.NewReader("x"))
	assert.True(t, errs.Is(err, errs.KindUnavailable))

	u = NewUploader(config.ObjectStoreConfig{BaseURL: server.URL})
	_, err = u.Upload(context.Background(), "doc.png", strings.NewReader("x"))
	assert.True(t, errs.Is(err, errs.KindUnavailable))
}
