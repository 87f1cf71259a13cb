package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/workshoplabs/badgeledger/pkg/common"
	"github.com/workshoplabs/badgeledger/pkg/common/api"
	"github.com/workshoplabs/badgeledger/pkg/common/db"
	"github.com/workshoplabs/badgeledger/pkg/common/migrations"
	"github.com/workshoplabs/badgeledger/services/auth-service/models"
)

type Service struct {
	db     *sql.DB
	secret []byte
}

func (s *Service) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	role := req.Role
	switch role {
	case "":
		role = "LEARNER"
	case "LEARNER", "ISSUER", "ADMIN":
	default:
		api.WriteError(w, http.StatusBadRequest, "invalid_role", "Unknown role", "")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to hash password", "")
		return
	}

	userID := "user-" + req.Username

	_, err = s.db.Exec(`
		INSERT INTO platform_db.users (
			id, username, password_hash, full_name, email, role, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, req.Username, string(hashedPassword), req.FullName, req.Email, role, "ACTIVE")

	if err != nil {
		log.Printf("Failed to register user: %v", err)
		api.WriteError(w, http.StatusConflict, "user_exists", "Username or email already exists", "")
		return
	}

	api.WriteSuccess(w, http.StatusCreated, map[string]string{"user_id": userID, "status": "created"})
}

func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, password_hash, role, status
		FROM platform_db.users WHERE username = $1`, req.Username).
		Scan(&user.ID, &user.PasswordHash, &user.Role, &user.Status)

	if err == sql.ErrNoRows {
		api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password", "")
		return
	} else if err != nil {
		log.Printf("DB Error: %v", err)
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Database error", "")
		return
	}

	if user.Status != "ACTIVE" {
		api.WriteError(w, http.StatusForbidden, "account_inactive", "Account is not active", "")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password", "")
		return
	}

	go func() {
		s.db.Exec("UPDATE platform_db.users SET last_login_at = $1 WHERE id = $2", time.Now(), user.ID)
	}()

	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &common.Claims{
		UserID:   user.ID,
		Username: req.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			Issuer:    "badge-auth-service",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to generate token", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, models.TokenResponse{Token: tokenString, ExpiresAt: expirationTime.Unix()})
}

func (s *Service) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)

	claims := &common.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})

	if err != nil || !token.Valid {
		api.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token", "")
		return
	}

	expirationTime := time.Now().Add(24 * time.Hour)
	claims.ExpiresAt = jwt.NewNumericDate(expirationTime)

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	newTokenString, err := newToken.SignedString(s.secret)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to refresh token", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, models.TokenResponse{Token: newTokenString, ExpiresAt: expirationTime.Unix()})
}

func (s *Service) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		api.WriteError(w, http.StatusUnauthorized, "missing_token", "Missing Authorization header", "")
		return
	}

	claims := &common.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})

	if err != nil || !token.Valid {
		api.WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"user_id":  claims.UserID,
		"username": claims.Username,
		"role":     claims.Role,
	})
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func main() {
	cfg := common.LoadConfig()

	database, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer database.Close()

	if err := migrations.RunMigrations(database, "migrations/auth"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	svc := &Service{db: database, secret: []byte(cfg.JWTSecret)}

	r := mux.NewRouter()

	r.HandleFunc("/auth/register", svc.RegisterHandler).Methods("POST")
	r.HandleFunc("/auth/login", svc.LoginHandler).Methods("POST")
	r.HandleFunc("/auth/refresh", svc.RefreshHandler).Methods("POST")
	r.HandleFunc("/auth/verify", svc.VerifyHandler).Methods("GET")

	log.Printf("Auth Service running on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
