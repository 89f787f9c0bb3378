// Package handler 实现 HTTP 接口。
package handler

import (
	"errors"
	"net/http"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logger"
	"github.com/gin-gonic/gin"
)

// Response 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    errs.Kind   `json:"code,omitempty"`
	Data    interface{} `json:"data"`
}

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// HandleError 按错误类别返回，data 可以携带部分结果（例如审核流程的最终状态）
func HandleError(c *gin.Context, err error, data interface{}) {
	kind := errs.KindOf(err)
	status := StatusOf(kind)

	message := err.Error()
	var e *errs.Error
	if errors.As(err, &e) && e.Msg != "" {
		message = e.Msg
	}

	switch kind {
	case errs.KindUserCancelled:
		message = "transaction was cancelled, nothing changed"
	case errs.KindInternal:
		logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
		message = "internal error"
	}

	c.JSON(status, Response{
		Success: false,
		Message: message,
		Code:    kind,
		Data:    data,
	})
}

// StatusOf 错误类别对应的 HTTP 状态码
func StatusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindLinkageDivergence:
		return http.StatusConflict
	case errs.KindTransientRead, errs.KindUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindUserCancelled:
		return http.StatusOK
	case errs.KindTransactionReverted:
		return http.StatusUnprocessableEntity
	case errs.KindTransaction:
		return http.StatusBadGateway
	case errs.KindUnconfirmed:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
