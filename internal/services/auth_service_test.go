package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/argon2"
)

func storedSecretHash(secret string) string {
	salt := []byte("0123456789abcdef")
	hash := argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, 32)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash)
}

func TestAuthService_Token(t *testing.T) {
	db, dbmock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)

	service := NewAuthService(db)
	secret := "super-secret-client-credential"

	postToken := func(body any) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(body)
		r := httptest.NewRequest("POST", "/auth/token", bytes.NewBuffer(payload))
		w := httptest.NewRecorder()
		service.Token(w, r)
		return w
	}

	t.Run("valid credentials issue a token", func(t *testing.T) {
		dbmock.ExpectQuery("SELECT secret_hash, is_active FROM service_clients").
			WithArgs("ops-dashboard").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash", "is_active"}).
				AddRow(storedSecretHash(secret), true))

		w := postToken(TokenRequest{ClientID: "ops-dashboard", ClientSecret: secret})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp TokenResponse
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, 24*3600, resp.ExpiresIn)
	})

	t.Run("wrong secret", func(t *testing.T) {
		dbmock.ExpectQuery("SELECT secret_hash, is_active FROM service_clients").
			WithArgs("ops-dashboard").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash", "is_active"}).
				AddRow(storedSecretHash(secret), true))

		w := postToken(TokenRequest{ClientID: "ops-dashboard", ClientSecret: "wrong-but-long-enough"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("deactivated client", func(t *testing.T) {
		dbmock.ExpectQuery("SELECT secret_hash, is_active FROM service_clients").
			WithArgs("retired-client").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash", "is_active"}).
				AddRow(storedSecretHash(secret), false))

		w := postToken(TokenRequest{ClientID: "retired-client", ClientSecret: secret})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown client", func(t *testing.T) {
		dbmock.ExpectQuery("SELECT secret_hash, is_active FROM service_clients").
			WithArgs("nobody").
			WillReturnRows(sqlmock.NewRows([]string{"secret_hash", "is_active"}))

		w := postToken(TokenRequest{ClientID: "nobody", ClientSecret: secret})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields fail validation", func(t *testing.T) {
		w := postToken(map[string]string{"clientId": "ops-dashboard"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVerifyClientSecret(t *testing.T) {
	secret := "super-secret-client-credential"
	stored := storedSecretHash(secret)

	assert.True(t, verifyClientSecret(secret, stored))
	assert.False(t, verifyClientSecret("different", stored))
	assert.False(t, verifyClientSecret(secret, "malformed"))
	assert.False(t, verifyClientSecret(secret, "not-base64$also-not"))
}
