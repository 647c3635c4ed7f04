package handler

import (
	"context"
	"net/http"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/engine"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

type createCampaignRequest struct {
	Title            string `json:"title"`
	TargetReviews    int    `json:"targetReviews"`
	ReviewsPerWeek   int    `json:"reviewsPerWeek"`
	AvailableFormats string `json:"availableFormats"`
}

// CreateCampaign создаёт кампанию текущего автора.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decode(w, r, &req) {
		return
	}

	c := caller(r)
	cmp, err := h.engine.CreateCampaign(r.Context(), c.ID, engine.NewCampaign{
		Title:          req.Title,
		TargetReviews:  req.TargetReviews,
		ReviewsPerWeek: req.ReviewsPerWeek,
		Formats:        model.FormatSet(req.AvailableFormats),
	})
	if err != nil {
		h.writeError(w, r, "create campaign", err)
		return
	}

	writeJSON(w, http.StatusCreated, h.campaignView(c, cmp))
}

// ListCampaigns возвращает кампании, доступные вызывающему.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	list, err := h.engine.ListCampaigns(r.Context(), c, model.CampaignStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, r, "list campaigns", err)
		return
	}

	resp := make([]any, 0, len(list))
	for i := range list {
		resp = append(resp, h.campaignView(c, &list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCampaign возвращает кампанию.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}

	c := caller(r)
	cmp, err := h.engine.GetCampaign(r.Context(), c, id)
	if err != nil {
		h.writeError(w, r, "get campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, h.campaignView(c, cmp))
}

type campaignOp func(ctx context.Context, caller model.Caller, campaignID int64) (*model.Campaign, error)

// campaignAction оборачивает операцию над кампанией, выполняемую автором или администратором.
func (h *Handler) campaignAction(name string, op campaignOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "campaignID")
		if !ok {
			return
		}

		c := caller(r)
		cmp, err := op(r.Context(), c, id)
		if err != nil {
			h.writeError(w, r, name, err)
			return
		}
		writeJSON(w, http.StatusOK, h.campaignView(c, cmp))
	}
}

// ActivateCampaign списывает кредиты автора и запускает кампанию.
func (h *Handler) ActivateCampaign() http.HandlerFunc {
	return h.campaignAction("activate campaign", h.engine.ActivateCampaign)
}

// PauseCampaign приостанавливает кампанию.
func (h *Handler) PauseCampaign() http.HandlerFunc {
	return h.campaignAction("pause campaign", h.engine.PauseCampaign)
}

// ResumeCampaign возобновляет кампанию.
func (h *Handler) ResumeCampaign() http.HandlerFunc {
	return h.campaignAction("resume campaign", h.engine.ResumeCampaign)
}

// CancelCampaign отменяет кампанию и возвращает автору неизрасходованные кредиты.
func (h *Handler) CancelCampaign() http.HandlerFunc {
	return h.campaignAction("cancel campaign", h.engine.CancelCampaign)
}

// CampaignAssignments возвращает назначения кампании. Автор видит только видимые назначения.
func (h *Handler) CampaignAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}

	c := caller(r)
	list, err := h.engine.CampaignAssignments(r.Context(), c, id)
	if err != nil {
		h.writeError(w, r, "campaign assignments", err)
		return
	}

	if c.Admin() {
		writeJSON(w, http.StatusOK, view.AdminAssignments(list))
		return
	}
	writeJSON(w, http.StatusOK, view.AuthorAssignments(list))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// ForceCompleteCampaign завершает кампанию досрочно.
func (h *Handler) ForceCompleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}

	cmp, err := h.engine.ForceCompleteCampaign(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, "force complete campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, h.campaignView(caller(r), cmp))
}

type distributionRequest struct {
	WeeklyQuota int `json:"weeklyQuota"`
}

// AdjustDistribution задаёт ручную недельную квоту.
func (h *Handler) AdjustDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}
	var req distributionRequest
	if !decode(w, r, &req) {
		return
	}

	cmp, err := h.engine.AdjustDistribution(r.Context(), id, req.WeeklyQuota)
	if err != nil {
		h.writeError(w, r, "adjust distribution", err)
		return
	}
	writeJSON(w, http.StatusOK, h.campaignView(caller(r), cmp))
}

// ResumeDistribution снимает ручную квоту.
func (h *Handler) ResumeDistribution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}

	cmp, err := h.engine.ResumeDistribution(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "resume distribution", err)
		return
	}
	writeJSON(w, http.StatusOK, h.campaignView(caller(r), cmp))
}

type overbookingRequest struct {
	Enabled bool `json:"enabled"`
	Percent int  `json:"percent"`
}

// AdjustOverbooking меняет параметры перебронирования.
func (h *Handler) AdjustOverbooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}
	var req overbookingRequest
	if !decode(w, r, &req) {
		return
	}

	cmp, err := h.engine.AdjustOverbooking(r.Context(), id, req.Enabled, req.Percent)
	if err != nil {
		h.writeError(w, r, "adjust overbooking", err)
		return
	}
	writeJSON(w, http.StatusOK, h.campaignView(caller(r), cmp))
}

// RemoveReader снимает читателя с кампании.
func (h *Handler) RemoveReader(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}
	readerID, ok := pathID(w, r, "readerID")
	if !ok {
		return
	}
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.engine.RemoveReaderFromCampaign(r.Context(), campaignID, readerID, req.Reason)
	if err != nil {
		h.writeError(w, r, "remove reader", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewAdminAssignment(a))
}
