package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
	"github.com/gin-gonic/gin"
)

type CampaignHandler struct {
	campaigns   CampaignService
	submissions SubmissionService
}

func NewCampaignHandler(campaigns CampaignService, submissions SubmissionService) *CampaignHandler {
	return &CampaignHandler{
		campaigns:   campaigns,
		submissions: submissions,
	}
}

// DonateRequest 捐款请求，amount 为最小单位的十进制整数
type DonateRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// parseQuery 解析 filter、emergency_first、page 参数
func parseQuery(c *gin.Context) (view.Query, error) {
	const op = "handler.parseQuery"

	q := view.Query{Filter: model.FilterAll, Page: 1}
	if s := c.Query("filter"); s != "" {
		filter, ok := model.ParseStatusFilter(s)
		if !ok {
			return q, errs.New(errs.KindValidation, op, "unknown filter %q", s)
		}
		q.Filter = filter
	}
	if s := c.Query("emergency_first"); s != "" {
		on, err := strconv.ParseBool(s)
		if err != nil {
			return q, errs.New(errs.KindValidation, op, "emergency_first must be a boolean")
		}
		q.EmergencyFirst = on
	}
	if s := c.Query("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil {
			return q, errs.New(errs.KindValidation, op, "page must be a number")
		}
		q.Page = page
	}
	return q, nil
}

// ListCampaigns 公开众筹列表
func (h *CampaignHandler) ListCampaigns(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	v, err := h.campaigns.List(c.Request.Context(), q)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", v)
}

// GetCampaign 众筹详情
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	detail, err := h.campaigns.Get(c.Request.Context(), c.Param("address"))
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", detail)
}

// Donate 捐款
func (h *CampaignHandler) Donate(c *gin.Context) {
	var req DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.campaigns.Donate(c.Request.Context(), c.Param("address"), req.Amount)
	if err != nil {
		HandleError(c, err, receipt)
		return
	}
	SuccessResponse(c, http.StatusOK, "donation confirmed", receipt)
}

// Withdraw 提取资金
func (h *CampaignHandler) Withdraw(c *gin.Context) {
	receipt, err := h.campaigns.Withdraw(c.Request.Context(), c.Param("address"))
	if err != nil {
		HandleError(c, err, receipt)
		return
	}
	SuccessResponse(c, http.StatusOK, "withdrawal confirmed", receipt)
}

// GetUserCampaigns 用户自己的众筹与申请
func (h *CampaignHandler) GetUserCampaigns(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	owner := c.Param("address")

	v, err := h.campaigns.ListByOwner(c.Request.Context(), owner, q)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	records, err := h.submissions.ListMine(c.Request.Context(), owner)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", gin.H{
		"campaigns":   v,
		"submissions": records,
	})
}
