// internal/handlers/user.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ludoroyale/server/internal/database"
	"github.com/ludoroyale/server/internal/models"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Region   string `json:"region"`
}

func (s *Server) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Username: req.Username,
		Password: req.Password,
		Region:   req.Region,
	}
	if err := database.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		s.Log.Errorf("create user failed: %v", err)
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}

	user.Password = ""
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler authenticates by username and password and returns a JWT,
// also set as an http-only cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	token, err := database.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		s.Log.Warnf("failed login for %q: %v", req.Username, err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// MeHandler returns the requesting user's profile, wallet balance included.
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := database.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	u.Password = ""
	writeJSON(w, http.StatusOK, u)
}
