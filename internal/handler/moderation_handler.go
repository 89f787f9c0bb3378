package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/agapay/internal/model"
	"github.com/gin-gonic/gin"
)

// ModerationHandler 审核员接口
type ModerationHandler struct {
	submissions SubmissionService
	approvals   ApprovalService
	divergences DivergenceLister
}

func NewModerationHandler(submissions SubmissionService, approvals ApprovalService, divergences DivergenceLister) *ModerationHandler {
	return &ModerationHandler{
		submissions: submissions,
		approvals:   approvals,
		divergences: divergences,
	}
}

// RejectRequest 驳回请求
type RejectRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Details string `json:"details"`
}

// ResolveRequest 对账请求，contract_address 为空时自动匹配
type ResolveRequest struct {
	ContractAddress string `json:"contract_address"`
}

// GetPending 待审核列表
func (h *ModerationHandler) GetPending(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	result, err := h.submissions.ListPending(c.Request.Context(), page)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", result)
}

// Approve 通过审核并在链上创建众筹
func (h *ModerationHandler) Approve(c *gin.Context) {
	attempt, err := h.approvals.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, attempt)
		return
	}
	SuccessResponse(c, http.StatusOK, "campaign created and linked", attempt)
}

// Reject 驳回审核
func (h *ModerationHandler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.approvals.Reject(c.Request.Context(), c.Param("id"), req.Reason, req.Details); err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "submission rejected", nil)
}

// GetAttempts 正在执行的审核通过操作
func (h *ModerationHandler) GetAttempts(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "ok", h.approvals.Attempts())
}

// GetRejectionReasons 可选的驳回理由
func (h *ModerationHandler) GetRejectionReasons(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "ok", model.RejectionReasons)
}

// GetDivergences 对账队列
func (h *ModerationHandler) GetDivergences(c *gin.Context) {
	open, err := h.divergences.ListOpen(c.Request.Context())
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", open)
}

// ResolveDivergence 处理一条对账异常
func (h *ModerationHandler) ResolveDivergence(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid divergence id")
		return
	}
	var req ResolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	record, err := h.approvals.Reconcile(c.Request.Context(), id, req.ContractAddress)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "divergence resolved", record)
}
