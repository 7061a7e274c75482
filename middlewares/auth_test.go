package middlewares

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"amigo/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, sub, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseUserID(t *testing.T) {
	token := signToken(t, "alice", testSecret)

	userID, err := ParseUserID(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = ParseUserID(token, "wrong-secret")
	assert.Error(t, err)

	_, err = ParseUserID("garbage", testSecret)
	assert.Error(t, err)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	signed, err := noSub.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ParseUserID(signed, testSecret)
	assert.Error(t, err)
}

func TestTokenAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	require.NoError(t, db.Create(&models.User{ID: "alice", Username: "alice"}).Error)

	r := gin.New()
	r.Use(TokenAuthMiddleware(testSecret, db))
	r.GET("/whoami", func(c *gin.Context) {
		user := c.MustGet("user").(*models.User)
		c.String(http.StatusOK, user.ID)
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("Bearer " + signToken(t, "alice", testSecret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Bearer nope").Code)
	// Valid token for a user the account service never created here.
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "+signToken(t, "ghost", testSecret)).Code)
}
