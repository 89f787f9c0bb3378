package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/logic"
	"github.com/blues/agapay/internal/model"
	"github.com/gin-gonic/gin"
)

// 单个文件上限
const maxUploadSize = 10 << 20

type SubmissionHandler struct {
	submissions SubmissionService
}

func NewSubmissionHandler(submissions SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// CreateSubmission 提交众筹申请
//
// 支持 JSON（材料已上传，提交地址）和 multipart 表单（材料随表单上传，字段名为材料类型）。
func (h *SubmissionHandler) CreateSubmission(c *gin.Context) {
	var (
		req     logic.SubmissionRequest
		uploads []logic.Upload
	)

	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		form, closers, err := readMultipart(c)
		defer func() {
			for _, cl := range closers {
				cl.Close()
			}
		}()
		if err != nil {
			HandleError(c, err, nil)
			return
		}
		req, uploads = form.req, form.uploads
	} else if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.submissions.Submit(c.Request.Context(), req, uploads)
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusCreated, "submission received, waiting for review", record)
}

type multipartForm struct {
	req     logic.SubmissionRequest
	uploads []logic.Upload
}

func readMultipart(c *gin.Context) (*multipartForm, []io.Closer, error) {
	const op = "handler.CreateSubmission"

	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, errs.Wrapf(errs.KindValidation, op, err, "invalid multipart form")
	}
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	flag := func(key string) bool {
		on, _ := strconv.ParseBool(value(key))
		return on
	}

	out := &multipartForm{req: logic.SubmissionRequest{
		Creator:     value("creator"),
		FullName:    value("full_name"),
		Name:        value("name"),
		Description: value("description"),
		Goal:        value("goal"),
		IsEmergency: flag("is_emergency"),
		Documents:   make(map[model.DocumentKind]string),
		Agreements: model.Agreements{
			Authenticity: flag("agree_authenticity"),
			Privacy:      flag("agree_privacy"),
			Disbursement: flag("agree_disbursement"),
		},
	}}
	if s := value("age"); s != "" {
		if out.req.Age, err = strconv.Atoi(s); err != nil {
			return nil, nil, errs.New(errs.KindValidation, op, "age must be a number")
		}
	}
	if s := value("duration_days"); s != "" {
		if out.req.DurationDays, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, nil, errs.New(errs.KindValidation, op, "duration_days must be a number")
		}
	}

	var closers []io.Closer
	for _, kind := range model.RequiredDocuments {
		if url := value(string(kind)); url != "" {
			out.req.Documents[kind] = url
			continue
		}
		files := form.File[string(kind)]
		if len(files) == 0 {
			continue
		}
		header := files[0]
		if header.Size > maxUploadSize {
			return nil, closers, errs.New(errs.KindValidation, op, "%s is larger than %d MB", kind, maxUploadSize>>20)
		}
		f, err := header.Open()
		if err != nil {
			return nil, closers, errs.Wrapf(errs.KindValidation, op, err, "cannot read %s", kind)
		}
		closers = append(closers, f)
		out.uploads = append(out.uploads, logic.Upload{Kind: kind, Filename: header.Filename, Content: f})
	}
	return out, closers, nil
}

// GetSubmission 申请详情
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	record, err := h.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", record)
}
