package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taskflow/mailer"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/query"
	"taskflow/realtime"
	"taskflow/response"
	"taskflow/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var taskListOptions = query.Options{
	SortColumns:       []string{"title", "status", "priority", "due_date", "position", "created_at", "updated_at"},
	SearchableColumns: []string{"title"},
	FilterColumns:     []string{"status", "priority", "assignee_id", "reporter_id", "parent_task_id"},
	DateColumn:        "due_date",
}

type TaskHandler struct {
	Deps
}

func NewTaskHandler(d Deps) *TaskHandler {
	return &TaskHandler{Deps: d}
}

// loadTask resolves {taskID} and the caller's team membership.
func (h *TaskHandler) loadTask(w http.ResponseWriter, r *http.Request) (*models.Task, *models.TeamMember, bool) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return nil, nil, false
	}
	task, member, err := taskAccess(r.Context(), currentUser(r), taskID)
	if err != nil {
		h.fail(w, r, err, "Task not found")
		return nil, nil, false
	}
	return task, member, true
}

// writableTask is loadTask for callers that must be able to edit team content.
func (h *TaskHandler) writableTask(w http.ResponseWriter, r *http.Request) (*models.Task, *models.TeamMember, bool) {
	task, member, ok := h.loadTask(w, r)
	if !ok {
		return nil, nil, false
	}
	if !member.CanWrite() {
		response.Forbidden(w, msgCannotWrite)
		return nil, nil, false
	}
	return task, member, true
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if _, _, err := projectAccess(r.Context(), currentUser(r), projectID); err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}

	p, ok := listParams(w, r, taskListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.Task{}).Where("project_id = ?", projectID)

	var tasks []models.Task
	page, err := query.Paginate(base, p, &tasks, query.Preload("Assignee"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Tasks retrieved", page)
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	user := currentUser(r)
	project, member, err := projectAccess(r.Context(), user, projectID)
	if err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}
	if !member.CanWrite() {
		response.Forbidden(w, msgCannotWrite)
		return
	}

	var req validation.CreateTaskRequest
	if !decode(w, r, &req) {
		return
	}

	task := models.Task{
		ProjectID:      projectID,
		ParentTaskID:   optionalID(req.ParentTaskID),
		Title:          strings.TrimSpace(req.Title),
		Status:         models.TaskStatus(req.Status),
		Priority:       models.Priority(req.Priority),
		AssigneeID:     optionalID(req.AssigneeID),
		ReporterID:     &user.ID,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
	}
	if task.Status == "" {
		task.Status = models.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if task.Status == models.TaskStatusDone {
		task.SetStatus(task.Status, h.now())
	}

	if task.AssigneeID != nil {
		if err := requireTeamMember(r.Context(), project.TeamID, *task.AssigneeID); err != nil {
			h.fail(w, r, err, "")
			return
		}
	}
	if task.ParentTaskID != nil {
		var parents int64
		if err := db(r).Model(&models.Task{}).Where("id = ? AND project_id = ?", *task.ParentTaskID, projectID).Count(&parents).Error; err != nil {
			h.fail(w, r, err, "")
			return
		}
		if parents == 0 {
			response.BadRequest(w, "Parent task must belong to the same project")
			return
		}
	}

	details := models.TaskDetail{
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Labels:             req.Labels,
		Metadata:           models.JSONMap{},
	}
	if details.Labels == nil {
		details.Labels = []string{}
	}

	err = db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Details", "Members").Create(&task).Error; err != nil {
			return err
		}
		details.TaskID = task.ID
		if err := tx.Create(&details).Error; err != nil {
			return err
		}
		if task.AssigneeID != nil {
			assignee := models.TaskMember{TaskID: task.ID, UserID: *task.AssigneeID, Role: models.TaskMemberAssignee}
			return tx.Create(&assignee).Error
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	task.Details = &details

	h.activity(r, models.ActivityLog{
		TeamID: &project.TeamID, EntityType: "task", EntityID: task.ID,
		Action: models.ActionCreated, Description: "Created task " + task.Title,
	})
	h.notifyAssigned(r, &task, project.Name)

	response.Created(w, "Task created", task)
}

// notifyAssigned tells the assignee about the task unless they assigned it
// to themselves.
func (h *TaskHandler) notifyAssigned(r *http.Request, task *models.Task, projectName string) {
	if task.AssigneeID == nil {
		return
	}
	user := currentUser(r)
	h.notifyUsers(r, []*uuid.UUID{task.AssigneeID}, notifier.Request{
		Type:       models.NotificationTaskAssigned,
		Title:      "Task assigned: " + task.Title,
		Message:    user.DisplayName() + " assigned you a task",
		EntityType: "task",
		EntityID:   &task.ID,
		Email: &notifier.Email{
			Subject:  "You were assigned: " + task.Title,
			Template: mailer.TemplateTaskAssigned,
			Data: mailer.TaskAssignedData{
				TaskTitle:    task.Title,
				ProjectName:  projectName,
				AssignerName: user.DisplayName(),
				Priority:     string(task.Priority),
				DueDate:      task.DueDate,
			},
		},
	})
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	var full models.Task
	err := db(r).
		Preload("Details").
		Preload("Members.User").
		Preload("Assignee").
		Preload("Reporter").
		First(&full, "id = ?", task.ID).Error
	if err != nil {
		h.fail(w, r, err, "Task not found")
		return
	}
	full.Project = task.Project
	response.Success(w, "Task retrieved", full)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.writableTask(w, r)
	if !ok {
		return
	}

	var req validation.UpdateTaskRequest
	if !decode(w, r, &req) {
		return
	}

	previousAssignee := task.AssigneeID
	updates := map[string]interface{}{}
	if req.Title != nil {
		task.Title = strings.TrimSpace(*req.Title)
		updates["title"] = task.Title
	}
	if req.Status != nil {
		task.SetStatus(models.TaskStatus(*req.Status), h.now())
		updates["status"] = task.Status
		updates["completed_at"] = task.CompletedAt
	}
	if req.Priority != nil {
		task.Priority = models.Priority(*req.Priority)
		updates["priority"] = task.Priority
	}
	if req.AssigneeID != nil {
		task.AssigneeID = optionalID(req.AssigneeID)
		updates["assignee_id"] = task.AssigneeID
		if task.AssigneeID != nil {
			if err := requireTeamMember(r.Context(), task.Project.TeamID, *task.AssigneeID); err != nil {
				h.fail(w, r, err, "")
				return
			}
		}
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
		updates["due_date"] = req.DueDate
		// a new due date may be missed again
		updates["overdue_notified_at"] = nil
	}
	if req.Position != nil {
		task.Position = *req.Position
		updates["position"] = task.Position
	}
	if req.EstimatedHours != nil {
		task.EstimatedHours = req.EstimatedHours
		updates["estimated_hours"] = req.EstimatedHours
	}

	if len(updates) == 0 {
		response.Success(w, "Task updated", task)
		return
	}
	reassigned := req.AssigneeID != nil && !sameID(previousAssignee, task.AssigneeID)
	err := db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			return err
		}
		if reassigned {
			return syncAssignee(tx, task.ID, task.AssigneeID)
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task", EntityID: task.ID,
		Action: models.ActionUpdated, Metadata: activityFields(updates),
	})
	h.broadcast(task.ID, realtime.EventTaskUpdated, realtime.TaskUpdated{TaskID: task.ID.String(), Task: task})

	if reassigned {
		h.notifyAssigned(r, task, task.Project.Name)
	}
	response.Success(w, "Task updated", task)
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// syncAssignee moves the assignee member row to the task's new assignee.
// A user who was already watching or reviewing is promoted in place.
func syncAssignee(tx *gorm.DB, taskID uuid.UUID, assigneeID *uuid.UUID) error {
	stale := tx.Where("task_id = ? AND role = ?", taskID, models.TaskMemberAssignee)
	if assigneeID != nil {
		stale = stale.Where("user_id <> ?", *assigneeID)
	}
	if err := stale.Delete(&models.TaskMember{}).Error; err != nil {
		return err
	}
	if assigneeID == nil {
		return nil
	}
	member := models.TaskMember{TaskID: taskID, UserID: *assigneeID, Role: models.TaskMemberAssignee}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&member).Error
}

// activityFields keeps the names of changed columns for the audit row.
func activityFields(updates map[string]interface{}) models.JSONMap {
	fields := make([]string, 0, len(updates))
	for k := range updates {
		fields = append(fields, k)
	}
	return models.JSONMap{"fields": fields}
}

func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.writableTask(w, r)
	if !ok {
		return
	}

	var req validation.TaskStatusRequest
	if !decode(w, r, &req) {
		return
	}

	previous := task.Status
	task.SetStatus(models.TaskStatus(req.Status), h.now())
	err := db(r).Model(&models.Task{}).Where("id = ?", task.ID).
		Updates(map[string]interface{}{"status": task.Status, "completed_at": task.CompletedAt}).Error
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task", EntityID: task.ID, Action: models.ActionUpdated,
		Description: fmt.Sprintf("Status changed from %s to %s", previous, task.Status),
		Metadata:    models.JSONMap{"from": string(previous), "to": string(task.Status)},
	})
	h.broadcast(task.ID, realtime.EventTaskUpdated, realtime.TaskUpdated{TaskID: task.ID.String(), Task: task})

	if previous != task.Status {
		h.notifyUsers(r, []*uuid.UUID{task.AssigneeID, task.ReporterID}, notifier.Request{
			Type:       models.NotificationTaskUpdated,
			Title:      "Task status changed: " + task.Title,
			Message:    fmt.Sprintf("%s moved the task to %s", currentUser(r).DisplayName(), task.Status),
			EntityType: "task",
			EntityID:   &task.ID,
		})
	}
	response.Success(w, "Task status updated", task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	task, member, ok := h.writableTask(w, r)
	if !ok {
		return
	}
	user := currentUser(r)
	isReporter := task.ReporterID != nil && *task.ReporterID == user.ID
	if !isReporter {
		allowed, err := canManageProject(r.Context(), member, task.ProjectID)
		if err != nil {
			h.fail(w, r, err, "")
			return
		}
		if !allowed {
			response.Forbidden(w, "Only the reporter or a project manager can delete this task")
			return
		}
	}

	if err := db(r).Delete(&models.Task{}, "id = ?", task.ID).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task", EntityID: task.ID,
		Action: models.ActionDeleted, Description: "Deleted task " + task.Title,
	})
	response.Success(w, "Task deleted", nil)
}

func (h *TaskHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	details, err := h.details(r, task.ID)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Task details retrieved", details)
}

// details returns the task's details row, or an unsaved empty one.
func (h *TaskHandler) details(r *http.Request, taskID uuid.UUID) (*models.TaskDetail, error) {
	details := models.TaskDetail{TaskID: taskID, Labels: []string{}, Metadata: models.JSONMap{}}
	err := db(r).Where("task_id = ?", taskID).Limit(1).Find(&details).Error
	return &details, err
}

func (h *TaskHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.writableTask(w, r)
	if !ok {
		return
	}

	var req validation.TaskDetailsRequest
	if !decode(w, r, &req) {
		return
	}

	details, err := h.details(r, task.ID)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if req.Description != nil {
		details.Description = *req.Description
	}
	if req.AcceptanceCriteria != nil {
		details.AcceptanceCriteria = *req.AcceptanceCriteria
	}
	if req.Labels != nil {
		details.Labels = req.Labels
	}
	if req.Metadata != nil {
		details.Metadata = models.JSONMap(req.Metadata)
	}

	if err := db(r).Save(details).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task", EntityID: task.ID,
		Action: models.ActionUpdated, Description: "Updated task details",
	})
	task.Details = details
	h.broadcast(task.ID, realtime.EventTaskUpdated, realtime.TaskUpdated{TaskID: task.ID.String(), Task: task})
	response.Success(w, "Task details updated", details)
}

func (h *TaskHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	var members []models.TaskMember
	if err := db(r).Preload("User").Where("task_id = ?", task.ID).Order("created_at").Find(&members).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Task members retrieved", members)
}

func (h *TaskHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.writableTask(w, r)
	if !ok {
		return
	}

	var req validation.TaskMemberRequest
	if !decode(w, r, &req) {
		return
	}
	userID := uuid.MustParse(req.UserID)
	role := models.TaskMemberRole(req.Role)
	if role == "" {
		role = models.TaskMemberWatcher
	}

	if err := requireTeamMember(r.Context(), task.Project.TeamID, userID); err != nil {
		h.fail(w, r, err, "")
		return
	}

	var existing int64
	if err := db(r).Model(&models.TaskMember{}).Where("task_id = ? AND user_id = ?", task.ID, userID).Count(&existing).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	if existing > 0 {
		response.Conflict(w, "User is already a member of this task")
		return
	}

	added := models.TaskMember{TaskID: task.ID, UserID: userID, Role: role}
	if err := db(r).Create(&added).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task_member", EntityID: added.ID,
		Action: models.ActionAdded, Metadata: models.JSONMap{"task_id": task.ID.String(), "user_id": userID.String(), "role": string(role)},
	})
	h.broadcast(task.ID, realtime.EventMemberChanged, realtime.MemberChanged{
		TaskID: task.ID.String(), UserID: userID.String(), Action: "added", Role: string(role),
	})
	h.notifyUsers(r, []*uuid.UUID{&userID}, notifier.Request{
		Type:       models.NotificationTaskMember,
		Title:      "Added to task: " + task.Title,
		Message:    fmt.Sprintf("%s added you as %s", currentUser(r).DisplayName(), role),
		EntityType: "task",
		EntityID:   &task.ID,
	})
	response.Created(w, "Task member added", added)
}

func (h *TaskHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.writableTask(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var member models.TaskMember
	if err := db(r).Where("task_id = ? AND user_id = ?", task.ID, userID).First(&member).Error; err != nil {
		h.fail(w, r, err, "Task member not found")
		return
	}
	if err := db(r).Delete(&member).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &task.Project.TeamID, EntityType: "task_member", EntityID: member.ID,
		Action: models.ActionRemoved, Metadata: models.JSONMap{"task_id": task.ID.String(), "user_id": userID.String()},
	})
	h.broadcast(task.ID, realtime.EventMemberChanged, realtime.MemberChanged{
		TaskID: task.ID.String(), UserID: userID.String(), Action: "removed", Role: string(member.Role),
	})
	response.Success(w, "Task member removed", nil)
}

func (h *TaskHandler) Presence(w http.ResponseWriter, r *http.Request) {
	task, _, ok := h.loadTask(w, r)
	if !ok {
		return
	}

	online := []realtime.OnlineUser{}
	if h.Hub != nil {
		users, err := h.Hub.Online(r.Context(), task.ID)
		if err != nil {
			h.fail(w, r, err, "")
			return
		}
		online = append(online, users...)
	}
	response.Success(w, "Online users retrieved", map[string]interface{}{
		"task_id":      task.ID,
		"online_users": online,
	})
}

// ExportCSV writes the project's tasks, filtered the same way as List.
func (h *TaskHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	project, _, err := projectAccess(r.Context(), currentUser(r), projectID)
	if err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}

	p, ok := listParams(w, r, taskListOptions)
	if !ok {
		return
	}
	q := query.ApplyPredicates(db(r).Model(&models.Task{}).Where("project_id = ?", projectID), p)
	q = query.ApplySort(q, p.Sorting)

	var tasks []models.Task
	if err := q.Preload("Assignee").Find(&tasks).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}

	filename := fmt.Sprintf("tasks_%s_%s.csv", Slugify(project.Name), h.now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{"ID", "Title", "Status", "Priority", "Assignee", "Due Date", "Estimated Hours", "Completed At", "Created At"})
	for _, task := range tasks {
		assignee := ""
		if task.Assignee != nil {
			assignee = task.Assignee.DisplayName()
		}
		hours := ""
		if task.EstimatedHours != nil {
			hours = strconv.FormatFloat(*task.EstimatedHours, 'f', 2, 64)
		}
		writer.Write([]string{
			task.ID.String(),
			task.Title,
			string(task.Status),
			string(task.Priority),
			assignee,
			formatDate(task.DueDate, "2006-01-02"),
			hours,
			formatDate(task.CompletedAt, time.RFC3339),
			task.CreatedAt.Format(time.RFC3339),
		})
	}
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}
