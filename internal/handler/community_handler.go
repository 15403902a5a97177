package handler

import (
	"net/http"
	"strconv"

	"SignalCAD/internal/middleware"
	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"
	"SignalCAD/internal/service"

	"github.com/gin-gonic/gin"
)

type CommunityHandler struct {
	svc *service.CommunityService
}

type CommunityCreateReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Branding    struct {
		PrimaryColor string `json:"primaryColor"`
		LogoURL      string `json:"logoUrl"`
	} `json:"branding"`
}

// BrandingReq 字段缺省或为空串都表示不修改
type BrandingReq struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	PrimaryColor *string `json:"primaryColor"`
	LogoURL      *string `json:"logoUrl"`
}

type MemberReq struct {
	Role model.Role `json:"role"`
}

func NewCommunityHandler(svc *service.CommunityService) *CommunityHandler {
	return &CommunityHandler{svc: svc}
}

func (h *CommunityHandler) Create(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errs.Validation("invalid params"))
		return
	}

	view, err := h.svc.CreateCommunity(c.Request.Context(), userID, req.Name, req.Description, model.Branding{
		PrimaryColor: req.Branding.PrimaryColor,
		LogoURL:      req.Branding.LogoURL,
	})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// ListMine 调用者所在的全部社区
func (h *CommunityHandler) ListMine(c *gin.Context) {
	userID, _ := middleware.UserID(c)

	list, err := h.svc.ListMyCommunities(c.Request.Context(), userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": list})
}

func (h *CommunityHandler) Get(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	communityID, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.svc.GetCommunity(c.Request.Context(), communityID, userID)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CommunityHandler) UpdateBranding(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	communityID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req BrandingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errs.Validation("invalid params"))
		return
	}

	view, err := h.svc.UpdateBranding(c.Request.Context(), communityID, userID, model.CommunityPatch{
		Name:         req.Name,
		Description:  req.Description,
		PrimaryColor: req.PrimaryColor,
		LogoURL:      req.LogoURL,
	})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SetMember 添加成员或修改角色
func (h *CommunityHandler) SetMember(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	communityID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	var req MemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, errs.Validation("invalid params"))
		return
	}

	view, err := h.svc.SetMemberRole(c.Request.Context(), communityID, userID, memberID, req.Role)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CommunityHandler) RemoveMember(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	communityID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(c.Request.Context(), communityID, userID, memberID); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "ok"})
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		middleware.Abort(c, errs.Validation("invalid "+name))
		return 0, false
	}
	return id, true
}
