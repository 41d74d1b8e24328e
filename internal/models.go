package internal

import (
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Link struct {
	ID             int64      `gorm:"primaryKey;type:bigint;autoIncrement:false"`
	OriginalURL    string     `gorm:"type:text;not null"`
	Slug           string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	ShortURL       string     `gorm:"type:text;not null"`
	OwnerID        *int64     `gorm:"type:bigint;index"`
	VisitCount     int64      `gorm:"not null;default:0"`
	ExpirationDate *time.Time
	Visitors       []Visit `gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the link can no longer be resolved at now.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpirationDate != nil && !l.ExpirationDate.After(now)
}

// OwnedBy reports whether userID may manage the link. Links without an owner
// are manageable by any authenticated user.
func (l *Link) OwnedBy(userID int64) bool {
	return l.OwnerID == nil || *l.OwnerID == userID
}

type Visit struct {
	ID        int64     `gorm:"primaryKey"`
	LinkID    int64     `gorm:"type:bigint;index;not null"`
	IP        string    `gorm:"type:text;not null;default:''"`
	UserAgent string    `gorm:"type:text;not null;default:''"`
	Timestamp time.Time `gorm:"not null;index"`
}

type User struct {
	ID           int64  `gorm:"primaryKey;type:bigint;autoIncrement:false"`
	Username     string `gorm:"type:varchar(64);uniqueIndex;not null"`
	PasswordHash string `gorm:"type:text;not null"`
	Role         string `gorm:"type:varchar(16);not null;default:user"`
	CreatedAt    time.Time
}

// ShortURL joins the public host prefix and a slug. It is the only place the
// display form of a link is derived.
func ShortURL(base, slug string) string {
	return strings.TrimRight(base, "/") + "/" + slug
}

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID int64
	Role   string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanManage reports whether c may rename l or read its analytics.
func (c Caller) CanManage(l *Link) bool {
	return c.IsAdmin() || l.OwnedBy(c.UserID)
}
