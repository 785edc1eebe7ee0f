package handlers

import (
	"net/http"

	"taskflow/models"
	"taskflow/query"
	"taskflow/response"
)

var activityListOptions = query.Options{
	SortColumns:   []string{"created_at"},
	FilterColumns: []string{"entity_type", "action", "user_id", "entity_id"},
}

type ActivityHandler struct {
	Deps
}

func NewActivityHandler(d Deps) *ActivityHandler {
	return &ActivityHandler{Deps: d}
}

// List is the team's audit feed, newest first.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if _, err := teamAccess(r.Context(), currentUser(r), teamID); err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	p, ok := listParams(w, r, activityListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.ActivityLog{}).Where("team_id = ?", teamID)

	var entries []models.ActivityLog
	page, err := query.Paginate(base, p, &entries, query.Preload("User"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Activity retrieved", page)
}
