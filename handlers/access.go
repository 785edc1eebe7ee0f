package handlers

import (
	"context"
	"errors"

	"taskflow/database"
	"taskflow/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	msgNotTeamMember  = "You are not a member of this team"
	msgCannotManage   = "Only team owners and admins can do this"
	msgCannotWrite    = "Viewers cannot modify team content"
	msgProjectManager = "Only team admins or project managers can do this"
)

// authorizedTeams limits a team query to the teams the user belongs to.
// Admins see every team.
func authorizedTeams(tx *gorm.DB, user *models.User) *gorm.DB {
	if user.IsAdmin() {
		return tx
	}
	return tx.Where("id IN (?)", database.GetDB().Model(&models.TeamMember{}).Select("team_id").Where("user_id = ?", user.ID))
}

// teamAccess returns the user's membership in teamID. Admins are treated as
// owners of every existing team.
func teamAccess(ctx context.Context, user *models.User, teamID uuid.UUID) (*models.TeamMember, error) {
	tx := database.GetDB().WithContext(ctx)
	if user.IsAdmin() {
		var team models.Team
		if err := tx.Select("id").First(&team, "id = ?", teamID).Error; err != nil {
			return nil, err
		}
		return &models.TeamMember{TeamID: teamID, UserID: user.ID, Role: models.TeamRoleOwner}, nil
	}

	var member models.TeamMember
	err := tx.Where("team_id = ? AND user_id = ?", teamID, user.ID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, forbidden(msgNotTeamMember)
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func projectAccess(ctx context.Context, user *models.User, projectID uuid.UUID) (*models.Project, *models.TeamMember, error) {
	var project models.Project
	if err := database.GetDB().WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		return nil, nil, err
	}
	member, err := teamAccess(ctx, user, project.TeamID)
	if err != nil {
		return nil, nil, err
	}
	return &project, member, nil
}

// taskAccess loads a task with the id and team of its project.
func taskAccess(ctx context.Context, user *models.User, taskID uuid.UUID) (*models.Task, *models.TeamMember, error) {
	tx := database.GetDB().WithContext(ctx)

	var task models.Task
	if err := tx.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, nil, err
	}
	var project models.Project
	if err := tx.Select("id", "team_id", "name").First(&project, "id = ?", task.ProjectID).Error; err != nil {
		return nil, nil, err
	}
	task.Project = &project

	member, err := teamAccess(ctx, user, project.TeamID)
	if err != nil {
		return nil, nil, err
	}
	return &task, member, nil
}

// canManageProject allows team owners and admins, and the project's managers.
func canManageProject(ctx context.Context, member *models.TeamMember, projectID uuid.UUID) (bool, error) {
	if member.CanManage() {
		return true, nil
	}
	var count int64
	err := database.GetDB().WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ? AND role = ?", projectID, member.UserID, models.ProjectRoleManager).
		Count(&count).Error
	return count > 0, err
}

// requireTeamMember fails unless userID belongs to teamID.
func requireTeamMember(ctx context.Context, teamID, userID uuid.UUID) error {
	var count int64
	err := database.GetDB().WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ?", teamID, userID).Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return badRequest("User must be a member of the team first")
	}
	return nil
}

// TaskAccess answers room join checks for the WebSocket hub.
type TaskAccess struct{}

func (TaskAccess) CanAccessTask(ctx context.Context, userID, taskID uuid.UUID) (bool, error) {
	var user models.User
	if err := database.GetDB().WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	_, _, err := taskAccess(ctx, &user, taskID)
	var fe *forbiddenError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &fe), errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ChatStore persists chat messages sent over the WebSocket.
type ChatStore struct{}

func (ChatStore) SaveMessage(ctx context.Context, taskID, userID uuid.UUID, message string) (*models.TaskChat, error) {
	tx := database.GetDB().WithContext(ctx)

	chat := &models.TaskChat{TaskID: taskID, UserID: &userID, Message: message}
	if err := tx.Create(chat).Error; err != nil {
		return nil, err
	}
	var user models.User
	if err := tx.First(&user, "id = ?", userID).Error; err == nil {
		chat.User = &user
	}
	return chat, nil
}
