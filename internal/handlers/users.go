package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/internal/services"
	"github.com/charlesng35/accounts/internal/transport"
	apperrors "github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
)

// UserHandler serves registration and account management.
type UserHandler struct {
	users  *services.UserService
	cookie transport.SessionCookie
}

func NewUserHandler(users *services.UserService, cookie transport.SessionCookie) *UserHandler {
	return &UserHandler{users: users, cookie: cookie}
}

type registerRequest struct {
	Username  string `json:"username" validate:"required,username"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,password"`
	FirstName string `json:"first_name" validate:"max=128"`
	LastName  string `json:"last_name" validate:"max=128"`
}

type updateUserRequest struct {
	Username        *string `json:"username" validate:"omitempty,username"`
	Email           *string `json:"email" validate:"omitempty,email,max=255"`
	FirstName       *string `json:"first_name" validate:"omitempty,max=128"`
	LastName        *string `json:"last_name" validate:"omitempty,max=128"`
	Password        *string `json:"password" validate:"omitempty,password"`
	CurrentPassword *string `json:"current_password" validate:"omitempty,max=256"`
	IsAdmin         *bool   `json:"is_admin"`
	IsActive        *bool   `json:"is_active"`
}

// POST /users/register
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// GET /users/
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	page, perPage := pagination(c)

	users, total, err := h.users.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, users, page, perPage, total)
}

// GET /users/:id
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	target, ok := h.target(c, actor, c.Param("id"))
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, target)
}

// PATCH /users/:id
func (h *UserHandler) Update(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	target, ok := h.target(c, actor, c.Param("id"))
	if !ok {
		return
	}
	h.update(c, actor, target)
}

// DELETE /users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	target, ok := h.target(c, actor, c.Param("id"))
	if !ok {
		return
	}
	h.remove(c, actor, target)
}

// GET /users/me
func (h *UserHandler) Me(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, actor)
}

// PATCH /users/me
func (h *UserHandler) UpdateMe(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	h.update(c, actor, actor)
}

// DELETE /users/me
func (h *UserHandler) DeleteMe(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	h.remove(c, actor, actor)
}

func (h *UserHandler) update(c *gin.Context, actor, target *models.User) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if (req.IsAdmin != nil || req.IsActive != nil) && !actor.IsAdmin {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	self := actor.ID == target.ID
	updated, err := h.users.Update(requestContext(c), target.ID, services.UpdateUserInput{
		Username:               req.Username,
		Email:                  req.Email,
		FirstName:              req.FirstName,
		LastName:               req.LastName,
		IsAdmin:                req.IsAdmin,
		IsActive:               req.IsActive,
		Password:               req.Password,
		CurrentPassword:        req.CurrentPassword,
		RequireCurrentPassword: self,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	// Both changes revoked every session of the user, including this one.
	if self && (req.Password != nil || (req.IsActive != nil && !*req.IsActive)) {
		h.cookie.Clear(c)
	}
	response.Success(c, http.StatusOK, updated)
}

func (h *UserHandler) remove(c *gin.Context, actor, target *models.User) {
	if err := h.users.Delete(requestContext(c), target.ID); err != nil {
		response.Error(c, err)
		return
	}
	if actor.ID == target.ID {
		h.cookie.Clear(c)
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// actor loads the authenticated user.
func (h *UserHandler) actor(c *gin.Context) (*models.User, bool) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return nil, false
	}
	user, err := h.users.FindByID(requestContext(c), principal.UserID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			response.Error(c, apperrors.ErrUnauthorized)
			return nil, false
		}
		response.Error(c, err)
		return nil, false
	}
	return user, true
}

// target loads the user addressed by id, which must be the actor unless the
// actor is an administrator.
func (h *UserHandler) target(c *gin.Context, actor *models.User, id string) (*models.User, bool) {
	id = strings.TrimSpace(id)
	if id == actor.ID {
		return actor, true
	}
	if !actor.IsAdmin {
		response.Error(c, apperrors.ErrForbidden)
		return nil, false
	}
	user, err := h.users.FindByID(requestContext(c), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return user, true
}
