package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Session{}))
	return db
}

func testRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware(SessionCfg{DB: db, CookieName: "sid", TTL: time.Hour}))
	r.GET("/whoami", func(c *gin.Context) {
		sess := CurrentSession(c)
		c.JSON(http.StatusOK, gin.H{"session_id": sess.ID})
	})
	return r
}

func sessionCookie(res *httptest.ResponseRecorder) *http.Cookie {
	for _, ck := range res.Result().Cookies() {
		if ck.Name == "sid" {
			return ck
		}
	}
	return nil
}

func TestSessionMiddlewareCreatesGuestSession(t *testing.T) {
	db := testDB(t)
	r := testRouter(db)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, res.Code)

	ck := sessionCookie(res)
	require.NotNil(t, ck)
	require.True(t, ck.HttpOnly)

	var sess Session
	require.NoError(t, db.First(&sess, "id = ?", ck.Value).Error)
	require.Nil(t, sess.UserID)
}

func TestSessionMiddlewareReusesExistingSession(t *testing.T) {
	db := testDB(t)
	r := testRouter(db)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	ck := sessionCookie(first)
	require.NotNil(t, ck)

	second := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: ck.Value})
	r.ServeHTTP(second, req)

	require.Equal(t, http.StatusOK, second.Code)
	require.Nil(t, sessionCookie(second), "no fresh cookie on a live session")

	var count int64
	require.NoError(t, db.Model(&Session{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSessionMiddlewareReplacesExpiredSession(t *testing.T) {
	db := testDB(t)
	r := testRouter(db)

	stale := Session{
		ID:         uuid.NewString(),
		ExpiresAt:  time.Now().Add(-time.Minute),
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		UpdatedAt:  time.Now().Add(-2 * time.Hour),
		LastSeenAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, db.Create(&stale).Error)

	res := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: stale.ID})
	r.ServeHTTP(res, req)

	ck := sessionCookie(res)
	require.NotNil(t, ck)
	require.NotEqual(t, stale.ID, ck.Value)
}

func TestBindCart(t *testing.T) {
	db := testDB(t)
	sess := Session{ID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(), UpdatedAt: time.Now(), LastSeenAt: time.Now()}
	require.NoError(t, db.Create(&sess).Error)

	cartID := uuid.NewString()
	require.NoError(t, BindCart(db, &sess, cartID))
	require.Equal(t, cartID, sess.CartID)

	var stored Session
	require.NoError(t, db.First(&stored, "id = ?", sess.ID).Error)
	require.Equal(t, cartID, stored.CartID)

	// Rebinding the same cart is a no-op.
	require.NoError(t, BindCart(db, &sess, cartID))
}

func TestGrantOrderAccess(t *testing.T) {
	db := testDB(t)
	sess := Session{ID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(), UpdatedAt: time.Now(), LastSeenAt: time.Now()}
	require.NoError(t, db.Create(&sess).Error)

	orderID := uuid.NewString()
	require.False(t, sess.OrderAccessGranted(orderID))

	require.NoError(t, GrantOrderAccess(db, &sess, orderID))
	require.True(t, sess.OrderAccessGranted(orderID))
	require.False(t, sess.OrderAccessGranted(uuid.NewString()))

	// Granting twice keeps a single entry.
	require.NoError(t, GrantOrderAccess(db, &sess, orderID))
	require.Len(t, sess.orderIDs(), 1)

	var stored Session
	require.NoError(t, db.First(&stored, "id = ?", sess.ID).Error)
	require.True(t, stored.OrderAccessGranted(orderID))
}

func TestGrantOrderAccessKeepsMostRecent(t *testing.T) {
	db := testDB(t)
	sess := Session{ID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(), UpdatedAt: time.Now(), LastSeenAt: time.Now()}
	require.NoError(t, db.Create(&sess).Error)

	oldest := uuid.NewString()
	require.NoError(t, GrantOrderAccess(db, &sess, oldest))
	for i := 0; i < maxCheckoutOrderIDs; i++ {
		require.NoError(t, GrantOrderAccess(db, &sess, uuid.NewString()))
	}

	require.Len(t, sess.orderIDs(), maxCheckoutOrderIDs)
	require.False(t, sess.OrderAccessGranted(oldest))
}
