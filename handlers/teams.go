package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"taskflow/mailer"
	"taskflow/models"
	"taskflow/notifier"
	"taskflow/query"
	"taskflow/response"
	"taskflow/validation"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var teamListOptions = query.Options{
	SortColumns:       []string{"name", "created_at", "updated_at"},
	SearchableColumns: []string{"name", "description"},
	FilterColumns:     []string{"status"},
}

type TeamHandler struct {
	Deps
}

func NewTeamHandler(d Deps) *TeamHandler {
	return &TeamHandler{Deps: d}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a team name into a url-safe slug.
func Slugify(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	if slug == "" {
		slug = "team"
	}
	return slug
}

func (h *TeamHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := listParams(w, r, teamListOptions)
	if !ok {
		return
	}
	base := authorizedTeams(db(r).Model(&models.Team{}), currentUser(r))

	var teams []models.Team
	page, err := query.Paginate(base, p, &teams)
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Paginated(w, "Teams retrieved", page)
}

func (h *TeamHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req validation.CreateTeamRequest
	if !decode(w, r, &req) {
		return
	}

	slug := req.Slug
	if slug == "" {
		slug = Slugify(req.Name)
	}
	var taken int64
	if err := db(r).Model(&models.Team{}).Unscoped().Where("slug = ?", slug).Count(&taken).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	if taken > 0 {
		if req.Slug != "" {
			response.Conflict(w, "Team slug already in use")
			return
		}
		slug = slug + "-" + uuid.NewString()[:8]
	}

	team := models.Team{
		Name:        strings.TrimSpace(req.Name),
		Slug:        slug,
		Description: req.Description,
		OwnerID:     &user.ID,
		Status:      models.TeamStatusActive,
	}

	err := db(r).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		owner := models.TeamMember{TeamID: team.ID, UserID: user.ID, Role: models.TeamRoleOwner, JoinedAt: h.now()}
		return tx.Create(&owner).Error
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &team.ID, EntityType: "team", EntityID: team.ID,
		Action: models.ActionCreated, Description: "Created team " + team.Name,
	})
	response.Created(w, "Team created", team)
}

func (h *TeamHandler) Get(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if _, err := teamAccess(r.Context(), currentUser(r), teamID); err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	var team models.Team
	if err := db(r).Preload("Owner").First(&team, "id = ?", teamID).Error; err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	response.Success(w, "Team retrieved", team)
}

func (h *TeamHandler) Update(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	member, err := teamAccess(r.Context(), currentUser(r), teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if !member.CanManage() {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var req validation.UpdateTeamRequest
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

	var team models.Team
	if err := db(r).First(&team, "id = ?", teamID).Error; err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if len(updates) > 0 {
		if err := db(r).Model(&team).Updates(updates).Error; err != nil {
			h.fail(w, r, err, "")
			return
		}
		h.activity(r, models.ActivityLog{
			TeamID: &team.ID, EntityType: "team", EntityID: team.ID,
			Action: models.ActionUpdated, Metadata: models.JSONMap(updates),
		})
	}
	response.Success(w, "Team updated", team)
}

func (h *TeamHandler) Delete(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	member, err := teamAccess(r.Context(), currentUser(r), teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if !member.IsOwner() {
		response.Forbidden(w, "Only the team owner can delete the team")
		return
	}

	if err := db(r).Delete(&models.Team{}, "id = ?", teamID).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "team", EntityID: teamID, Action: models.ActionDeleted,
	})
	response.Success(w, "Team deleted", nil)
}

func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if _, err := teamAccess(r.Context(), currentUser(r), teamID); err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	var members []models.TeamMember
	if err := db(r).Preload("User").Where("team_id = ?", teamID).Order("joined_at").Find(&members).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Team members retrieved", members)
}

func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
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
	if !member.CanManage() {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var req validation.AddTeamMemberRequest
	if !decode(w, r, &req) {
		return
	}
	userID := uuid.MustParse(req.UserID)
	role := models.TeamRole(req.Role)
	if role == "" {
		role = models.TeamRoleMember
	}

	var invitee models.User
	if err := db(r).First(&invitee, "id = ?", userID).Error; err != nil {
		h.fail(w, r, err, "User not found")
		return
	}

	var existing int64
	if err := db(r).Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, userID).Count(&existing).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	if existing > 0 {
		response.Conflict(w, "User is already a member of this team")
		return
	}

	added := models.TeamMember{TeamID: teamID, UserID: userID, Role: role, InvitedBy: &user.ID, JoinedAt: h.now()}
	if err := db(r).Create(&added).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}
	added.User = &invitee

	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "team_member", EntityID: added.ID,
		Action: models.ActionAdded, Description: "Added " + invitee.DisplayName(),
		Metadata: models.JSONMap{"user_id": userID.String(), "role": string(role)},
	})
	h.notifyUsers(r, []*uuid.UUID{&userID}, notifier.Request{
		Type: models.NotificationTeamInvite, Title: "Added to a team",
		Message:    user.DisplayName() + " added you to a team",
		EntityType: "team", EntityID: &teamID,
	})
	response.Created(w, "Member added", added)
}

func (h *TeamHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	member, err := teamAccess(r.Context(), currentUser(r), teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if !member.CanManage() {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var req validation.UpdateTeamMemberRequest
	if !decode(w, r, &req) {
		return
	}
	role := models.TeamRole(req.Role)

	var target models.TeamMember
	if err := db(r).Where("team_id = ? AND user_id = ?", teamID, userID).First(&target).Error; err != nil {
		h.fail(w, r, err, "Member not found")
		return
	}

	if (role == models.TeamRoleOwner || target.IsOwner()) && !member.IsOwner() {
		response.Forbidden(w, "Only the team owner can change ownership")
		return
	}
	err = db(r).Transaction(func(tx *gorm.DB) error {
		if target.IsOwner() && role != models.TeamRoleOwner {
			if err := keepAnOwner(tx, teamID); err != nil {
				return err
			}
		}
		return tx.Model(&target).Update("role", role).Error
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "team_member", EntityID: target.ID,
		Action: models.ActionUpdated, Metadata: models.JSONMap{"user_id": userID.String(), "role": req.Role},
	})
	response.Success(w, "Member updated", target)
}

// keepAnOwner fails when the team would be left without an owner. It locks
// the owner rows, so tx must be the transaction that demotes or removes one.
func keepAnOwner(tx *gorm.DB, teamID uuid.UUID) error {
	var owners []uuid.UUID
	err := tx.Model(&models.TeamMember{}).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("team_id = ? AND role = ?", teamID, models.TeamRoleOwner).Pluck("id", &owners).Error
	if err != nil {
		return err
	}
	if len(owners) <= 1 {
		return badRequest("A team must keep at least one owner")
	}
	return nil
}

func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	user := currentUser(r)
	member, err := teamAccess(r.Context(), user, teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	// members may always leave
	if !member.CanManage() && userID != user.ID {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var target models.TeamMember
	if err := db(r).Where("team_id = ? AND user_id = ?", teamID, userID).First(&target).Error; err != nil {
		h.fail(w, r, err, "Member not found")
		return
	}
	err = db(r).Transaction(func(tx *gorm.DB) error {
		if target.IsOwner() {
			if err := keepAnOwner(tx, teamID); err != nil {
				return err
			}
		}
		return tx.Delete(&target).Error
	})
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	h.activity(r, models.ActivityLog{
		TeamID: &teamID, EntityType: "team_member", EntityID: target.ID,
		Action: models.ActionRemoved, Metadata: models.JSONMap{"user_id": userID.String()},
	})
	response.Success(w, "Member removed", nil)
}

type invitationPayload struct {
	Invitation models.TeamInvitation `json:"invitation"`
	Code       string                `json:"code"`
}

func (h *TeamHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	member, err := teamAccess(r.Context(), currentUser(r), teamID)
	if err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}
	if !member.CanManage() {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var invites []models.TeamInvitation
	err = db(r).Where("team_id = ? AND accepted_at IS NULL AND expires_at > ?", teamID, h.now()).
		Order("created_at desc").Find(&invites).Error
	if err != nil {
		h.fail(w, r, err, "")
		return
	}
	response.Success(w, "Invitations retrieved", invites)
}

func (h *TeamHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
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
	if !member.CanManage() {
		response.Forbidden(w, msgCannotManage)
		return
	}

	var req validation.InvitationRequest
	if !decode(w, r, &req) {
		return
	}
	role := models.TeamRole(req.Role)
	if role == "" {
		role = models.TeamRoleMember
	}

	var team models.Team
	if err := db(r).First(&team, "id = ?", teamID).Error; err != nil {
		h.fail(w, r, err, "Team not found")
		return
	}

	code, err := models.GenerateInviteCode()
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	invite := models.TeamInvitation{
		TeamID:    teamID,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      role,
		Code:      code,
		InvitedBy: &user.ID,
		ExpiresAt: h.now().Add(h.Config.InviteExpiration),
	}
	if err := db(r).Create(&invite).Error; err != nil {
		h.fail(w, r, err, "")
		return
	}

	if h.Mailer != nil {
		data := mailer.TeamInvitationData{
			TeamName:    team.Name,
			InviterName: user.DisplayName(),
			Role:        string(role),
			Code:        code,
			ExpiresAt:   invite.ExpiresAt,
		}
		if err := h.Mailer.SendTemplate(r.Context(), invite.Email, "You're invited to join "+team.Name, mailer.TemplateTeamInvitation, data); err != nil {
			h.Log.WithContext(r.Context()).Warn("Invitation email not delivered", "invitation_id", invite.ID, "error", err)
		}
	}

	var invitee models.User
	if err := db(r).Where("email = ?", invite.Email).First(&invitee).Error; err == nil {
		h.notifyUsers(r, []*uuid.UUID{&invitee.ID}, notifier.Request{
			Type: models.NotificationTeamInvite, Title: "Team invitation",
			Message:    user.DisplayName() + " invited you to join " + team.Name,
			EntityType: "team", EntityID: &teamID,
		})
	}

	response.Created(w, "Invitation sent", invitationPayload{Invitation: invite, Code: code})
}

func (h *TeamHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	code := chi.URLParam(r, "code")

	var invite models.TeamInvitation
	if err := db(r).Where("code = ?", code).First(&invite).Error; err != nil {
		h.fail(w, r, err, "Invitation not found")
		return
	}
	if !invite.IsValid() {
		response.BadRequest(w, "Invitation has expired or already been used")
		return
	}
	if !strings.EqualFold(invite.Email, user.Email) {
		response.Forbidden(w, "This invitation was sent to a different email address")
		return
	}

	now := h.now()
	joined := models.TeamMember{TeamID: invite.TeamID, UserID: user.ID, Role: invite.Role, InvitedBy: invite.InvitedBy, JoinedAt: now}
	err := db(r).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", invite.TeamID, user.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errAlreadyMember
		}
		if err := tx.Create(&joined).Error; err != nil {
			return err
		}
		return tx.Model(&invite).Update("accepted_at", now).Error
	})
	if errors.Is(err, errAlreadyMember) {
		response.Conflict(w, "You are already a member of this team")
		return
	}
	if err != nil {
		h.fail(w, r, err, "")
		return
	}

	h.activity(r, models.ActivityLog{
		TeamID: &invite.TeamID, EntityType: "team_member", EntityID: joined.ID,
		Action: models.ActionAdded, Description: user.DisplayName() + " accepted an invitation",
	})
	response.Success(w, "Invitation accepted", joined)
}

var errAlreadyMember = errors.New("already a member")
