package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kitilash/altegiobot/internal/domain/sender"
)

// AdminConfigRepo manages senders, routing rules and templates.
type AdminConfigRepo interface {
	UpsertSender(ctx context.Context, s sender.Sender) (sender.Sender, error)
	UpsertRule(ctx context.Context, r sender.Rule) (sender.Rule, error)
	UpsertTemplate(ctx context.Context, t sender.Template) (sender.Template, error)
}

type AdminConfigHandler struct {
	repo AdminConfigRepo
}

func NewAdminConfigHandler(repo AdminConfigRepo) *AdminConfigHandler {
	return &AdminConfigHandler{repo: repo}
}

type upsertSenderRequest struct {
	CompanyID     int64   `json:"companyId" binding:"required"`
	SenderCode    string  `json:"senderCode" binding:"required,min=1,max=32"`
	PhoneNumberID string  `json:"phoneNumberId" binding:"required"`
	DisplayPhone  *string `json:"displayPhone"`
	IsActive      *bool   `json:"isActive"`
}

// PUT /admin/senders
func (h *AdminConfigHandler) UpsertSender(ctx *gin.Context) {
	var req upsertSenderRequest
	if !BindJSON(ctx, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	row, err := h.repo.UpsertSender(cctx, sender.Sender{
		CompanyID:     req.CompanyID,
		SenderCode:    req.SenderCode,
		PhoneNumberID: req.PhoneNumberID,
		DisplayPhone:  req.DisplayPhone,
		IsActive:      active,
	})
	if err != nil {
		RespondInternal(ctx, "Could not save sender")
		return
	}
	ctx.JSON(http.StatusOK, row)
}

type upsertRuleRequest struct {
	CompanyID  int64  `json:"companyId" binding:"required"`
	ServiceID  int64  `json:"serviceId" binding:"required"`
	SenderCode string `json:"senderCode" binding:"required,min=1,max=32"`
}

// PUT /admin/rules
func (h *AdminConfigHandler) UpsertRule(ctx *gin.Context) {
	var req upsertRuleRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	row, err := h.repo.UpsertRule(cctx, sender.Rule{
		CompanyID:  req.CompanyID,
		ServiceID:  req.ServiceID,
		SenderCode: req.SenderCode,
	})
	if err != nil {
		RespondInternal(ctx, "Could not save rule")
		return
	}
	ctx.JSON(http.StatusOK, row)
}

type upsertTemplateRequest struct {
	CompanyID int64  `json:"companyId" binding:"required"`
	Code      string `json:"code" binding:"required,min=1,max=64"`
	Language  string `json:"language" binding:"required,min=2,max=8"`
	Body      string `json:"body" binding:"required"`
	IsActive  *bool  `json:"isActive"`
}

// PUT /admin/templates
func (h *AdminConfigHandler) UpsertTemplate(ctx *gin.Context) {
	var req upsertTemplateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	row, err := h.repo.UpsertTemplate(cctx, sender.Template{
		CompanyID: req.CompanyID,
		Code:      req.Code,
		Language:  req.Language,
		Body:      req.Body,
		IsActive:  active,
	})
	if err != nil {
		RespondInternal(ctx, "Could not save template")
		return
	}
	ctx.JSON(http.StatusOK, row)
}
