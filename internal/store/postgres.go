package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MagnunAVF/shortlinks/internal"
)

type Postgres struct {
	db        *gorm.DB
	shortBase string
}

// Open connects to postgres with duplicate-key errors translated to
// gorm.ErrDuplicatedKey.
func Open(dsn string, log gormlogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         log,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewPostgres(db *gorm.DB, shortBase string) *Postgres {
	return &Postgres{db: db, shortBase: shortBase}
}

func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Postgres) Create(ctx context.Context, link *internal.Link) error {
	link.ShortURL = internal.ShortURL(s.shortBase, link.Slug)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(link).Error; err != nil {
		return translate(err, "create link %q", link.Slug)
	}
	return nil
}

func (s *Postgres) FindBySlug(ctx context.Context, slug string) (*internal.Link, error) {
	var link internal.Link
	err := s.db.WithContext(ctx).
		Preload("Visitors", func(db *gorm.DB) *gorm.DB {
			return db.Order(`"timestamp" ASC, id ASC`)
		}).
		Where("slug = ?", slug).
		First(&link).Error
	if err != nil {
		return nil, translate(err, "find link by slug %q", slug)
	}
	return &link, nil
}

func (s *Postgres) FindByID(ctx context.Context, id int64) (*internal.Link, error) {
	var link internal.Link
	if err := s.db.WithContext(ctx).First(&link, "id = ?", id).Error; err != nil {
		return nil, translate(err, "find link %d", id)
	}
	return &link, nil
}

func (s *Postgres) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&internal.Link{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check slug %q: %w", slug, err)
	}
	return n > 0, nil
}

func (s *Postgres) ListByOwner(ctx context.Context, ownerID int64) ([]internal.Link, error) {
	var links []internal.Link
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list links of %d: %w", ownerID, err)
	}
	return links, nil
}

// IncrementVisit is a single UPDATE ... RETURNING so concurrent redirects of
// the same slug never lose an increment.
func (s *Postgres) IncrementVisit(ctx context.Context, slug string, now time.Time) (*internal.Link, error) {
	var link internal.Link
	res := s.db.WithContext(ctx).
		Model(&link).
		Clauses(clause.Returning{}).
		Where("slug = ? AND (expiration_date IS NULL OR expiration_date > ?)", slug, now).
		UpdateColumn("visit_count", gorm.Expr("visit_count + ?", 1))
	if res.Error != nil {
		return nil, fmt.Errorf("increment visits of %q: %w", slug, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("increment visits of %q: %w", slug, internal.ErrNotFound)
	}
	return &link, nil
}

func (s *Postgres) RenameSlug(ctx context.Context, id int64, newSlug string) (*internal.Link, error) {
	var link internal.Link
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&link, "id = ?", id).Error; err != nil {
			return translate(err, "find link %d", id)
		}
		if link.Slug == newSlug {
			return nil
		}

		var taken int64
		if err := tx.Model(&internal.Link{}).Where("slug = ? AND id <> ?", newSlug, id).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("rename link %d to %q: %w", id, newSlug, internal.ErrConflict)
		}

		link.Slug = newSlug
		link.ShortURL = internal.ShortURL(s.shortBase, newSlug)
		err := tx.Model(&link).Updates(map[string]any{
			"slug":      link.Slug,
			"short_url": link.ShortURL,
		}).Error
		return translate(err, "rename link %d to %q", id, newSlug)
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *Postgres) AppendVisitor(ctx context.Context, slug string, visit internal.Visit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link internal.Link
		if err := tx.Select("id").Where("slug = ?", slug).First(&link).Error; err != nil {
			return translate(err, "append visitor to %q", slug)
		}

		visit.ID = 0
		visit.LinkID = link.ID
		if err := tx.Create(&visit).Error; err != nil {
			return fmt.Errorf("append visitor to %q: %w", slug, err)
		}
		return nil
	})
}

func (s *Postgres) CreateUser(ctx context.Context, user *internal.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate(err, "create user %q", user.Username)
	}
	return nil
}

func (s *Postgres) FindUserByUsername(ctx context.Context, username string) (*internal.User, error) {
	var user internal.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err, "find user %q", username)
	}
	return &user, nil
}

// translate maps gorm's sentinel errors onto the domain ones. A nil err stays nil.
func translate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", msg, internal.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", msg, internal.ErrConflict)
	case errors.Is(err, internal.ErrNotFound), errors.Is(err, internal.ErrConflict):
		return err
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
