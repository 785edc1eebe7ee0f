package handlers

import (
	"net/http"
	"strings"

	"taskflow/models"
	"taskflow/query"
	"taskflow/response"
	"taskflow/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var projectListOptions = query.Options{
	SortColumns:       []string{"name", "status", "priority", "start_date", "end_date", "created_at", "updated_at"},
	SearchableColumns: []string{"name", "description"},
	FilterColumns:     []string{"status", "priority", "owner_id"},
	DateColumn:        "start_date",
}

type ProjectHandler struct {
	Deps
}

func NewProjectHandler(d Deps) *ProjectHandler {
	return &ProjectHandler{Deps: d}
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if _, err := teamAccess(r.Context(), currentUser(r), teamID); err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	p, ok := listParams(w, r, projectListOptions)
	if !ok {
		return
	}
	base := db(r).Model(&models.Project{}).Where("team_id = ?", teamID)

	var projects []models.Project
	page, err := query.Paginate(base, p, &projects, query.Preload("Owner"))
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Projects retrieved", page)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
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

	var req validation.CreateProjectRequest
	if !decode(w, r, &req) {
		return
	}

	project := models.Project{
		TeamID:      teamID,
		OwnerID:     &user.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Status:      models.ProjectStatus(req.Status),
		Priority:    models.Priority(req.Priority),
		Color:       req.Color,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
	if project.Status == "" {
		project.Status = models.ProjectStatusPlanning
	}
	if project.Priority == "" {
		project.Priority = models.PriorityMedium
	}

	err = db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		manager := models.ProjectMember{ProjectID: project.ID, UserID: user.ID, Role: models.ProjectRoleManager}
		return tx.Create(&manager).Error
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "project", EntityID: project.ID,
		Action: models.ActionCreated, Description: "Created project " + project.Name,
	})
	response.Created(w, "Project created", project)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if _, _, err := projectAccess(r.Context(), currentUser(r), projectID); err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}

	var project models.Project
	if err := db(r).Preload("Owner").Preload("Members.User").First(&project, "id = ?", projectID).Error; err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}
	response.Success(w, "Project retrieved", project)
}

// managed loads a project the caller may manage.
func (h *ProjectHandler) managed(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return nil, false
	}
	project, member, err := projectAccess(r.Context(), currentUser(r), projectID)
	if err != nil {
		h.fail(w, r, err, "Project not found")
		return nil, false
	}
	allowed, err := canManageProject(r.Context(), member, project.ID)
	if err != nil {
		h.fail(w, r, err, "")
		return nil, false
	}
	if !allowed {
		response.Forbidden(w, msgProjectManager)
		return nil, false
	}
	return project, true
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	project, ok := h.managed(w, r)
	if !ok {
		return
	}

	var req validation.UpdateProjectRequest
	if !decode(w, r, &req) {
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Color != nil {
		updates["color"] = *req.Color
	}
	if req.StartDate != nil {
		updates["start_date"] = *req.StartDate
	}
	if req.EndDate != nil {
		updates["end_date"] = *req.EndDate
	}

	start, end := project.StartDate, project.EndDate
	if req.StartDate != nil {
		start = req.StartDate
	}
	if req.EndDate != nil {
		end = req.EndDate
	}
	if start != nil && end != nil && end.Before(*start) {
		response.ValidationError(w, []string{"end_date must not be before start_date"})
		return
	}

	if len(updates) > 0 {
		if err := db(r).Model(project).Updates(updates).Error; err != nil {
			h.fail(w, r, err, "")
			return
		}
		h.activity(r, models.ActivityLog{
			TeamID: &project.TeamID, EntityType: "project", EntityID: project.ID,
			Action: models.ActionUpdated, Metadata: models.JSONMap(updates),
		})
	}
	response.Success(w, "Project updated", project)
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	project, ok := h.managed(w, r)
	if !ok {
		return
	}

	if err := db(r).Delete(project).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &project.TeamID, EntityType: "project", EntityID: project.ID,
		Action: models.ActionDeleted, Description: "Deleted project " + project.Name,
	})
	response.Success(w, "Project deleted", nil)
}

func (h *ProjectHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	if _, _, err := projectAccess(r.Context(), currentUser(r), projectID); err != nil {
		h.fail(w, r, err, "Project not found")
		return
	}

	var members []models.ProjectMember
	if err := db(r).Preload("User").Where("project_id = ?", projectID).Order("created_at").Find(&members).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Project members retrieved", members)
}

func (h *ProjectHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	project, ok := h.managed(w, r)
	if !ok {
		return
	}

	var req validation.ProjectMemberRequest
	if !decode(w, r, &req) {
		return
	}
	userID := uuid.MustParse(req.UserID)
	role := models.ProjectRole(req.Role)
	if role == "" {
		role = models.ProjectRoleContributor
	}

	if err := requireTeamMember(r.Context(), project.TeamID, userID); err != nil {
		h.fail(w, r, err, "")
		return
	}

	var existing models.ProjectMember
	err := db(r).Where(models.ProjectMember{ProjectID: project.ID, UserID: userID}).
		Attrs(models.ProjectMember{Role: role}).
		FirstOrCreate(&existing).Error
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	if existing.Role != role {
		if err := db(r).Model(&existing).Update("role", role).Error; err != nil {
			h.fail(w, r, err, "")
			return
		}
	}

	h.activity(r, models.ActivityLog{
		TeamID: &project.TeamID, EntityType: "project_member", EntityID: existing.ID,
		Action: models.ActionAdded, Metadata: models.JSONMap{"project_id": project.ID.String(), "user_id": userID.String(), "role": string(role)},
	})
	response.Created(w, "Project member added", existing)
}

func (h *ProjectHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	project, ok := h.managed(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	result := db(r).Where("project_id = ? AND user_id = ?", project.ID, userID).Delete(&models.ProjectMember{})
	if result.Error != nil {
		h.fail(w, r, result.Error, "")
		return
	}
	if result.RowsAffected == 0 {
		response.NotFound(w, "Project member not found")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &project.TeamID, EntityType: "project_member", EntityID: project.ID,
		Action: models.ActionRemoved, Metadata: models.JSONMap{"user_id": userID.String()},
	})
	response.Success(w, "Project member removed", nil)
}
