package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/jobs"
	"github.com/asteroid-belt/trophysync/internal/models"
	"github.com/asteroid-belt/trophysync/internal/syncer"
)

// StartResponse acknowledges an enqueued sync.
type StartResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"task_id"`
	Kind    string `json:"kind"`
	UserID  int64  `json:"user_id"`
}

func (h *handler) startFull(w http.ResponseWriter, r *http.Request) {
	force, err := boolQuery(r, "force")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	h.start(w, r, syncer.KindFull, syncer.FullParams{ForceRefresh: force})
}

func (h *handler) startQuick(w http.ResponseWriter, r *http.Request) {
	force, err := boolQuery(r, "force")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	p := syncer.QuickParams{ForceRefresh: force}
	if raw := r.URL.Query().Get("max_games"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			renderError(w, r, http.StatusBadRequest, fmt.Errorf("invalid max_games %q", raw))
			return
		}
		p.MaxGames = n
	}
	h.start(w, r, syncer.KindQuick, p)
}

func (h *handler) startSpecific(w http.ResponseWriter, r *http.Request) {
	var p syncer.SpecificParams
	if err := render.DecodeJSON(r.Body, &p); err != nil {
		renderError(w, r, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if len(p.AppIDs) == 0 {
		renderError(w, r, http.StatusBadRequest, errors.New("app_ids is required"))
		return
	}
	h.start(w, r, syncer.KindSpecific, p)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request, kind string, params any) {
	uid, err := userID(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	id, err := h.deps.Syncs.StartSync(r.Context(), kind, uid, params)
	switch {
	case err == nil:
	case errors.Is(err, syncer.ErrInvalidUser):
		renderError(w, r, http.StatusNotFound, err)
		return
	case errors.Is(err, syncer.ErrNoAccount), errors.Is(err, jobs.ErrUnknownKind):
		renderError(w, r, http.StatusBadRequest, err)
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		renderError(w, r, http.StatusServiceUnavailable, err)
		return
	default:
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StartResponse{Success: true, JobID: id, Kind: kind, UserID: uid})
}

func (h *handler) taskStatus(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Status.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, v)
}

func (h *handler) taskSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.Status.Summary(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, sum)
}

func (h *handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	terminate, err := boolQuery(r, "terminate")
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.Status.Cancel(r.Context(), chi.URLParam(r, "jobID"), terminate)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, res)
}

// ActiveResponse lists a user's running jobs.
type ActiveResponse struct {
	Tasks []jobs.RunningJob `json:"tasks"`
}

func (h *handler) activeTasks(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	render.JSON(w, r, ActiveResponse{Tasks: h.deps.Status.ListActive(uid)})
}

// NotificationView is one notification as served to pollers.
type NotificationView struct {
	ID              string                     `json:"id"`
	Type            models.NotificationType    `json:"type"`
	Title           string                     `json:"title"`
	Message         string                     `json:"message"`
	Data            models.NotificationPayload `json:"data"`
	Priority        int                        `json:"priority"`
	DisplayDuration int                        `json:"display_duration"`
	CreatedAt       time.Time                  `json:"created_at"`
	IsRead          bool                       `json:"is_read"`
}

// UnreadResponse is the body of the unread listing.
type UnreadResponse struct {
	Success       bool               `json:"success"`
	Notifications []NotificationView `json:"notifications"`
	Count         int                `json:"count"`
}

func (h *handler) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	list, err := h.deps.Notifications.ListUnreadNotifications(uid)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	views := make([]NotificationView, 0, len(list))
	for i := range list {
		n := &list[i]
		views = append(views, NotificationView{
			ID:              n.ID,
			Type:            n.Type,
			Title:           n.Title,
			Message:         n.Message,
			Data:            n.Payload,
			Priority:        n.Priority,
			DisplayDuration: n.DisplayDuration,
			CreatedAt:       n.CreatedAt,
			IsRead:          n.IsRead(),
		})
	}
	render.JSON(w, r, UnreadResponse{Success: true, Notifications: views, Count: len(views)})
}

// CountResponse is the body of the badge count.
type CountResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

func (h *handler) notificationCount(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	n, err := h.deps.Notifications.CountUnreadNotifications(uid)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, CountResponse{Success: true, Count: n})
}

// StampResponse acknowledges a read or dismiss.
type StampResponse struct {
	Success        bool       `json:"success"`
	NotificationID string     `json:"notification_id"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.stamp(w, r, h.deps.Notifications.MarkNotificationRead)
}

func (h *handler) dismiss(w http.ResponseWriter, r *http.Request) {
	h.stamp(w, r, h.deps.Notifications.MarkNotificationDismissed)
}

func (h *handler) stamp(w http.ResponseWriter, r *http.Request, fn func(int64, string) (*models.Notification, error)) {
	uid, err := userID(r)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	n, err := fn(uid, chi.URLParam(r, "notificationID"))
	if errors.Is(err, db.ErrNotFound) {
		renderError(w, r, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, StampResponse{
		Success:        true,
		NotificationID: n.ID,
		ReadAt:         n.ReadAt,
		DismissedAt:    n.DismissedAt,
	})
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}
