// Package objectstore 上传申请材料到 Cloudinary 并返回访问地址。
package objectstore

import (
	"context"
	"io"
	"net/http"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/go-resty/resty/v2"
)

type uploadResponse struct {
	PublicId  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Bytes     int64  `json:"bytes"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Uploader 文件上传客户端
type Uploader struct {
	client *resty.Client
	config config.ObjectStoreConfig
}

// NewUploader 创建上传客户端
func NewUploader(cfg config.ObjectStoreConfig) *Uploader {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &Uploader{client: client, config: cfg}
}

// Upload 上传文件并返回 https 地址
//
// 请求体是流式读取的，失败时不会自动重试。
func (u *Uploader) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	const op = "objectstore.Upload"

	if u.config.CloudName == "" || u.config.UploadPreset == "" {
		return "", errs.New(errs.KindUnavailable, op, "object store is not configured")
	}

	resp, err := u.client.R().
		SetContext(ctx).
		SetPathParam("cloud", u.config.CloudName).
		SetFileReader("file", filename, content).
		SetFormData(map[string]string{"upload_preset": u.config.UploadPreset}).
		SetResult(&uploadResponse{}).
		SetError(&errorResponse{}).
		ForceContentType("application/json").
		Post("/v1_1/{cloud}/image/upload")
	if err != nil {
		return "", errs.Wrapf(errs.KindUnavailable, op, err, "upload %s", filename)
	}

	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*errorResponse); ok && e.Error.Message != "" {
			msg = e.Error.Message
		}
		kind := errs.KindUnavailable
		if resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError {
			kind = errs.KindValidation
		}
		return "", errs.New(kind, op, "upload %s rejected: %s", filename, msg)
	}

	out, ok := resp.Result().(*uploadResponse)
	if !ok || out.SecureURL == "" {
		return "", errs.New(errs.KindUnavailable, op, "upload %s returned no url", filename)
	}

	logger.Debug("Uploaded %s as %s (%d bytes)", filename, out.PublicId, out.Bytes)
	return out.SecureURL, nil
}
