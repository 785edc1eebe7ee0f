package handlers

import (
	"net/http"
	"strings"

	"taskflow/models"
	"taskflow/query"
	"taskflow/response"
	"taskflow/validation"

	"github.com/google/uuid"
)

var eventListOptions = query.Options{
	SortColumns:       []string{"start_time", "end_time", "title", "created_at"},
	SearchableColumns: []string{"title", "description", "location"},
	FilterColumns:     []string{"event_type", "project_id", "task_id", "created_by"},
	DateColumn:        "start_time",
	DefaultSortBy:     "start_time",
	DefaultSortOrder:  query.SortAsc,
}

type CalendarHandler struct {
	Deps
}

func NewCalendarHandler(d Deps) *CalendarHandler {
	return &CalendarHandler{Deps: d}
}

func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if _, err := teamAccess(r.Context(), currentUser(r), teamID); err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	p, ok := listParams(w, r, eventListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.CalendarEvent{}).Where("team_id = ?", teamID)

	var events []models.CalendarEvent
	page, err := query.Paginate(base, p, &events)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Events retrieved", page)
}

// checkLinks verifies that the project and task an event points at belong
// to the team.
func (h *CalendarHandler) checkLinks(r *http.Request, teamID uuid.UUID, projectID, taskID *uuid.UUID) error {
	if projectID != nil {
		var count int64
		if err := db(r).Model(&models.Project{}).Where("id = ? AND team_id = ?", *projectID, teamID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return badRequest("Project does not belong to this team")
		}
	}
	if taskID != nil {
		var count int64
		err := db(r).Model(&models.Task{}).
			Where("id = ? AND project_id IN (?)", *taskID, db(r).Model(&models.Project{}).Select("id").Where("team_id = ?", teamID)).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count == 0 {
			return badRequest("Task does not belong to this team")
		}
	}
	return nil
}

func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	user := currentUser(r)
	member, err := teamAccess(r.Context(), user, teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if !member.CanWrite() {
		response.Forbidden(w, msgCannotWrite)
		return
	}

	var req validation.CalendarEventRequest
	if !decode(w, r, &req) {
		return
	}

	event := models.CalendarEvent{
		TeamID:          teamID,
		ProjectID:       optionalID(req.ProjectID),
		TaskID:          optionalID(req.TaskID),
		CreatedBy:       &user.ID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Location:        req.Location,
		EventType:       models.EventType(req.EventType),
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		AllDay:          req.AllDay,
		ReminderMinutes: req.ReminderMinutes,
	}
	if event.EventType == "" {
		event.EventType = models.EventMeeting
	}
	if err := h.checkLinks(r, teamID, event.ProjectID, event.TaskID); err != nil {
		h.fail(w, r, err, "")
		return
	}

	if err := db(r).Create(&event).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "calendar_event", EntityID: event.ID,
		Action: models.ActionCreated, Description: "Scheduled " + event.Title,
	})
	response.Created(w, "Event created", event)
}

func (h *CalendarHandler) loadEvent(w http.ResponseWriter, r *http.Request) (*models.CalendarEvent, *models.TeamMember, bool) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return nil, nil, false
	}
	var event models.CalendarEvent
	if err := db(r).First(&event, "id = ?", eventID).Error; err != nil {
		h.fail(w, r, err, "Event not found")
		return nil, nil, false
	}
	member, err := teamAccess(r.Context(), currentUser(r), event.TeamID)
	if err != nil {
		h.fail(w, r, err, "Event not found")
		return nil, nil, false
	}
	return &event, member, true
}

// editableEvent allows the event's creator and team admins.
func (h *CalendarHandler) editableEvent(w http.ResponseWriter, r *http.Request) (*models.CalendarEvent, bool) {
	event, member, ok := h.loadEvent(w, r)
	if !ok {
		return nil, false
	}
	if !isAuthor(event.CreatedBy, currentUser(r)) && !member.CanManage() {
		response.Forbidden(w, "Only the organiser or a team admin can change this event")
		return nil, false
	}
	return event, true
}

func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, _, ok := h.loadEvent(w, r)
	if !ok {
		return
	}
	response.Success(w, "Event retrieved", event)
}

func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	event, ok := h.editableEvent(w, r)
	if !ok {
		return
	}

	var req validation.CalendarEventRequest
	if !decode(w, r, &req) {
		return
	}

	projectID, taskID := optionalID(req.ProjectID), optionalID(req.TaskID)
	if err := h.checkLinks(r, event.TeamID, projectID, taskID); err != nil {
		h.fail(w, r, err, "")
		return
	}

	rescheduled := !event.StartTime.Equal(req.StartTime) || !sameMinutes(event.ReminderMinutes, req.ReminderMinutes)

	event.ProjectID = projectID
	event.TaskID = taskID
	event.Title = strings.TrimSpace(req.Title)
	event.Description = req.Description
	event.Location = req.Location
	if req.EventType != "" {
		event.EventType = models.EventType(req.EventType)
	}
	event.StartTime = req.StartTime
	event.EndTime = req.EndTime
	event.AllDay = req.AllDay
	event.ReminderMinutes = req.ReminderMinutes
	if rescheduled {
		event.ReminderSent = false
	}

	if err := db(r).Save(event).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &event.TeamID, EntityType: "calendar_event", EntityID: event.ID, Action: models.ActionUpdated,
	})
	response.Success(w, "Event updated", event)
}

func sameMinutes(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	event, ok := h.editableEvent(w, r)
	if !ok {
		return
	}

	if err := db(r).Delete(event).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &event.TeamID, EntityType: "calendar_event", EntityID: event.ID, Action: models.ActionDeleted,
	})
	response.Success(w, "Event deleted", nil)
}
