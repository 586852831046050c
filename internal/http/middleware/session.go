package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionCfg holds configuration for session middleware.
type SessionCfg struct {
	DB         *gorm.DB
	CookieName string
	Secure     bool
	TTL        time.Duration
}

// maxCheckoutOrderIDs bounds the guest-access list so a session row cannot
// grow without limit.
const maxCheckoutOrderIDs = 25

// Session is a database-backed session. UserID is nil for guests. The
// checkout order id list is the guest's only proof of ownership for orders
// created in this session.
type Session struct {
	ID               string         `gorm:"primaryKey;type:char(36)"`
	UserID           *string        `gorm:"type:char(36);index:ix_sessions_user_id"`
	CartID           string         `gorm:"type:char(36)"`
	CheckoutOrderIDs datatypes.JSON `gorm:"type:json"`
	ExpiresAt        time.Time      `gorm:"type:datetime;not null"`
	CreatedAt        time.Time      `gorm:"type:datetime;not null"`
	UpdatedAt        time.Time      `gorm:"type:datetime;not null"`
	LastSeenAt       time.Time      `gorm:"type:datetime;not null"`
}

func (Session) TableName() string { return "sessions" }

const ctxKeySession = "session"

// SessionMiddleware loads the session named by the cookie, creating a fresh
// guest session when the cookie is missing, stale or expired. Every request
// downstream can rely on a session being present.
func SessionMiddleware(cfg SessionCfg) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess Session
		sessionID, _ := c.Cookie(cfg.CookieName)
		if sessionID != "" {
			err := cfg.DB.Where("id = ? AND expires_at > ?", sessionID, time.Now()).First(&sess).Error
			if err == nil {
				cfg.DB.Model(&Session{}).Where("id = ?", sess.ID).
					Update("last_seen_at", time.Now())
				c.Set(ctxKeySession, &sess)
				c.Next()
				return
			}
		}

		sess = Session{
			ID:         uuid.NewString(),
			ExpiresAt:  time.Now().Add(cfg.TTL),
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
			LastSeenAt: time.Now(),
		}
		if err := cfg.DB.Create(&sess).Error; err != nil {
			Fail(c, err)
			return
		}
		maxAge := int(cfg.TTL / time.Second)
		c.SetCookie(cfg.CookieName, sess.ID, maxAge, "/", "", cfg.Secure, true)
		c.Set(ctxKeySession, &sess)
		c.Next()
	}
}

// SetSession attaches a session to the request context, for callers that
// resolve sessions outside this middleware.
func SetSession(c *gin.Context, s *Session) {
	c.Set(ctxKeySession, s)
}

// CurrentSession returns the request's session. The middleware guarantees
// one exists on every route it wraps.
func CurrentSession(c *gin.Context) *Session {
	if v, ok := c.Get(ctxKeySession); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}

// CurrentUserID returns the authenticated user id, or nil for guests.
func CurrentUserID(c *gin.Context) *string {
	if s := CurrentSession(c); s != nil {
		return s.UserID
	}
	return nil
}

// BindCart persists the cart id on the session so the next request finds
// the same cart.
func BindCart(db *gorm.DB, sess *Session, cartID string) error {
	if sess.CartID == cartID {
		return nil
	}
	sess.CartID = cartID
	return db.Model(&Session{}).Where("id = ?", sess.ID).
		Updates(map[string]any{"cart_id": cartID, "updated_at": time.Now()}).Error
}

func (s *Session) orderIDs() []string {
	if len(s.CheckoutOrderIDs) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(s.CheckoutOrderIDs, &ids); err != nil {
		return nil
	}
	return ids
}

// GrantOrderAccess remembers that this session created the order, keeping
// only the most recent entries.
func GrantOrderAccess(db *gorm.DB, sess *Session, orderID string) error {
	ids := appendUnique(sess.orderIDs(), orderID)
	if len(ids) > maxCheckoutOrderIDs {
		ids = ids[len(ids)-maxCheckoutOrderIDs:]
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	sess.CheckoutOrderIDs = datatypes.JSON(raw)
	return db.Model(&Session{}).Where("id = ?", sess.ID).
		Updates(map[string]any{"checkout_order_ids": datatypes.JSON(raw), "updated_at": time.Now()}).Error
}

// OrderAccessGranted reports whether the session created the given order.
func (s *Session) OrderAccessGranted(orderID string) bool {
	for _, id := range s.orderIDs() {
		if id == orderID {
			return true
		}
	}
	return false
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
