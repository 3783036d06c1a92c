package services

import (
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService issues JWTs to registered API clients through the
// client-credentials flow. Clients are provisioned out of band; there is
// no self-service registration.
type AuthService struct {
	db        *sql.DB
	validator *validator.Validate
}

// TokenRequest represents the client-credentials token request payload
// @Description Token request structure
type TokenRequest struct {
	ClientID     string `json:"clientId" validate:"required" example:"ops-dashboard"`       // Registered client identifier
	ClientSecret string `json:"clientSecret" validate:"required,min=16" example:"s3cr3t…"` // Client secret issued at provisioning
}

// TokenResponse represents the issued token
// @Description Token response structure
type TokenResponse struct {
	Token     string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT bearer token
	TokenType string `json:"tokenType" example:"Bearer"`                              // Always Bearer
	ExpiresIn int    `json:"expiresIn" example:"86400"`                               // Lifetime in seconds
}

func NewAuthService(db *sql.DB) *AuthService {
	return &AuthService{
		db:        db,
		validator: validator.New(),
	}
}

// Token exchanges client credentials for a JWT
// @Summary Issue an API token
// @Description Exchange client credentials for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Token request"
// @Success 200 {object} TokenResponse "Token issued"
// @Failure 400 {string} string "Invalid request"
// @Failure 401 {string} string "Invalid credentials"
// @Failure 500 {string} string "Internal server error"
// @Router /auth/token [post]
func (s *AuthService) Token(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Token request from IP: %s", r.RemoteAddr)

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TokenRequest
	if err := dec.Decode(&req); err != nil {
		log.Printf("[AUTH] Token request failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Printf("[AUTH] Multiple JSON objects detected")
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Token request validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var secretHash string
	var isActive bool
	err := s.db.QueryRowContext(r.Context(),
		"SELECT secret_hash, is_active FROM service_clients WHERE client_id = $1",
		req.ClientID).Scan(&secretHash, &isActive)
	if err != nil {
		log.Printf("[AUTH] Unknown client: %s", req.ClientID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !isActive || !verifyClientSecret(req.ClientSecret, secretHash) {
		log.Printf("[AUTH] Credential verification failed for client: %s", req.ClientID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	expiryHours := viper.GetInt("jwt.expiry_hours")
	if expiryHours <= 0 {
		expiryHours = 24
	}

	token, err := generateJWT(req.ClientID, expiryHours)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for client %s: %v", req.ClientID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Token issued for client: %s", req.ClientID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: expiryHours * 3600,
	})
}

func generateJWT(clientID string, expiryHours int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"client_id": clientID,
		"exp":       time.Now().Add(time.Duration(expiryHours) * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// verifyClientSecret checks a presented secret against the stored
// "salt$hash" argon2id digest in constant time.
func verifyClientSecret(secret, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}
