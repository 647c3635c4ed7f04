package handler

import (
	"net/http"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/view"
)

type applyRequest struct {
	Format string `json:"format"`
}

// Apply подаёт заявку текущего читателя на кампанию.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := pathID(w, r, "campaignID")
	if !ok {
		return
	}
	var req applyRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.engine.ApplyToCampaign(r.Context(), caller(r).ID, campaignID, model.Format(req.Format))
	if err != nil {
		h.writeError(w, r, "apply", err)
		return
	}
	writeJSON(w, http.StatusCreated, view.NewReaderAssignment(a))
}

// ReaderAssignments возвращает назначения текущего читателя.
func (h *Handler) ReaderAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ReaderAssignments(r.Context(), caller(r).ID)
	if err != nil {
		h.writeError(w, r, "reader assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, view.ReaderAssignments(list))
}

// GetAssignment возвращает назначение владельцу или администратору.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	c := caller(r)
	a, err := h.engine.GetAssignment(r.Context(), c, id)
	if err != nil {
		h.writeError(w, r, "get assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentView(c, a))
}

// Withdraw отзывает заявку текущего читателя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	a, err := h.engine.WithdrawAssignment(r.Context(), caller(r).ID, id)
	if err != nil {
		h.writeError(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewReaderAssignment(a))
}

type accessResponse struct {
	Assignment view.ReaderAssignment `json:"assignment"`
	Link       *model.MaterialLink   `json:"link"`
}

// Access фиксирует доступ к материалам и возвращает ограниченную по времени ссылку.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	a, link, err := h.engine.RequestMaterialAccess(r.Context(), caller(r).ID, id)
	if err != nil {
		h.writeError(w, r, "material access", err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Assignment: view.NewReaderAssignment(a), Link: link})
}

type reviewRequest struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// SubmitReview принимает рецензию читателя.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	var req reviewRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.engine.SubmitReview(r.Context(), caller(r).ID, id, req.URL, req.Text)
	if err != nil {
		h.writeError(w, r, "submit review", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewReaderAssignment(a))
}

type validateRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// ValidateReview принимает или отклоняет рецензию.
func (h *Handler) ValidateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	var req validateRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.engine.ValidateReview(r.Context(), id, req.Approved, req.Comment)
	if err != nil {
		h.writeError(w, r, "validate review", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewAdminAssignment(a))
}

// SettleAssignment начисляет читателю выплату за принятую рецензию.
func (h *Handler) SettleAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	a, err := h.engine.SettleAssignment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "settle assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewAdminAssignment(a))
}

// GrantAccess вручную выдаёт доступ к материалам.
func (h *Handler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	a, err := h.engine.ManualGrantAccess(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "grant access", err)
		return
	}
	writeJSON(w, http.StatusOK, view.NewAdminAssignment(a))
}

type expiryResponse struct {
	Expired     bool                  `json:"expired"`
	Assignment  *view.AdminAssignment `json:"assignment,omitempty"`
	Replacement *view.AdminAssignment `json:"replacement,omitempty"`
	Released    bool                  `json:"released"`
	Outcome     string                `json:"outcome,omitempty"`
}

// ExpireAssignment немедленно проверяет срок назначения, не дожидаясь очередного обхода.
func (h *Handler) ExpireAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}

	x, err := h.engine.ExpireAssignment(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "expire assignment", err)
		return
	}

	var resp expiryResponse
	if x != nil {
		a := view.NewAdminAssignment(x.Assignment)
		resp = expiryResponse{Expired: true, Assignment: &a, Released: x.Released}
		if x.Replacement != nil {
			rep := view.NewAdminAssignment(x.Replacement)
			resp.Replacement = &rep
		}
		if err := x.Err(); err != nil {
			resp.Outcome = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
