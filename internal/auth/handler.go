package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/respond"
)

// Handler exposes signup and login.
type Handler struct {
	ids *identity.Service
	svc *Service
}

// NewHandler builds an auth handler.
func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type signupRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ReferredBy string `json:"referred_by"`
}

type authResponse struct {
	User  identity.Profile `json:"user"`
	Token Token            `json:"token"`
}

// Signup registers a user and logs them in.
func (h *Handler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	user, err := h.ids.Register(c.UserContext(), identity.Credentials{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		ReferredBy: req.ReferredBy,
	})
	if err != nil {
		return respond.Error(c, err)
	}
	token, err := h.svc.Issue(user)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.Created(c, "account created", authResponse{User: identity.NewProfile(user), Token: token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login validates credentials and returns a token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.Error(c, apperr.Validation("invalid request body"))
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respond.Error(c, err)
	}
	token, err := h.svc.Issue(user)
	if err != nil {
		return respond.Error(c, err)
	}
	return respond.OK(c, "logged in", authResponse{User: identity.NewProfile(user), Token: token})
}
