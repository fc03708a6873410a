package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/glebarez/sqlite"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/isometry/dirauth/internal/auth"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Options locate the user table.
type Options struct {
	DSN                 string `mapstructure:"dsn" default:":memory:"`
	Table               string `mapstructure:"table" default:"users"`
	PrimaryKey          string `mapstructure:"primary_key" default:"user_id"`
	RememberTokenColumn string `mapstructure:"remember_token_column" default:"remember_token"`

	SlowThreshold time.Duration `mapstructure:"slow_threshold" default:"200ms"`
}

// UserStore reads and writes users in a table of any shape. Rows are handled
// as column maps; only the primary key and remember token columns are
// interpreted.
type UserStore struct {
	db   *gorm.DB
	opts Options
}

var _ auth.UserStore = (*UserStore)(nil)

// Open connects to a SQLite database.
func Open(ctx context.Context, opts Options) (*UserStore, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("applying store defaults: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger: NewLogger(opts.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", opts.DSN, err)
	}

	if opts.DSN == MemoryDSN {
		// every connection to :memory: is a separate database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Opened user store", map[string]any{
		"table":       opts.Table,
		"primary_key": opts.PrimaryKey,
	})

	return New(db, opts)
}

// New wraps an existing connection.
func New(db *gorm.DB, opts Options) (*UserStore, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("applying store defaults: %w", err)
	}
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &UserStore{db: db, opts: opts}, nil
}

// DB returns the underlying connection.
func (s *UserStore) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *UserStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *UserStore) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.opts.Table)
}

func eq(column string, value any) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: column}, Value: value}
}

func (s *UserStore) NewUser() *auth.User {
	return &auth.User{Attributes: map[string]any{}}
}

func (s *UserStore) FindByPrimaryID(ctx context.Context, id string) (*auth.User, error) {
	return s.findFirst(ctx, eq(s.opts.PrimaryKey, id))
}

func (s *UserStore) FindByPrimaryIDAndToken(ctx context.Context, id, token string) (*auth.User, error) {
	return s.findFirst(ctx, eq(s.opts.PrimaryKey, id), eq(s.opts.RememberTokenColumn, token))
}

func (s *UserStore) FindByColumn(ctx context.Context, column, value string) (*auth.User, error) {
	return s.findFirst(ctx, eq(column, value))
}

func (s *UserStore) findFirst(ctx context.Context, conds ...clause.Expression) (*auth.User, error) {
	var rows []map[string]any
	err := s.table(ctx).Clauses(clause.Where{Exprs: conds}).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.opts.Table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return s.toUser(rows[0]), nil
}

func (s *UserStore) toUser(row map[string]any) *auth.User {
	user := &auth.User{
		Attributes: row,
		Persisted:  true,
	}
	if v, ok := row[s.opts.PrimaryKey]; ok && v != nil {
		user.ID = fmt.Sprint(v)
	}
	if v, ok := row[s.opts.RememberTokenColumn].(string); ok {
		user.RememberToken = v
	}
	return user
}

// SupportsRememberToken checks the live schema for the remember token column.
func (s *UserStore) SupportsRememberToken(ctx context.Context) (bool, error) {
	return s.db.WithContext(ctx).Migrator().HasColumn(s.opts.Table, s.opts.RememberTokenColumn), nil
}

// Save inserts an unpersisted user or updates an existing one by primary key.
func (s *UserStore) Save(ctx context.Context, user *auth.User) error {
	if user == nil {
		return errors.New("cannot save a nil user")
	}
	if user.ID == "" {
		return errors.New("cannot save a user without a primary id")
	}

	values := make(map[string]any, len(user.Attributes)+2)
	for k, v := range user.Attributes {
		values[k] = v
	}
	values[s.opts.PrimaryKey] = user.ID

	withToken, err := s.SupportsRememberToken(ctx)
	if err != nil {
		return err
	}
	if withToken && user.RememberToken != "" {
		values[s.opts.RememberTokenColumn] = user.RememberToken
	}

	if !user.Persisted {
		if err := s.table(ctx).Create(values).Error; err != nil {
			return fmt.Errorf("inserting user %q: %w", user.ID, err)
		}
		user.Persisted = true
		if user.Attributes == nil {
			user.Attributes = map[string]any{}
		}
		user.Attributes[s.opts.PrimaryKey] = user.ID
		return nil
	}

	delete(values, s.opts.PrimaryKey)
	tx := s.table(ctx).Where(eq(s.opts.PrimaryKey, user.ID)).Updates(values)
	if tx.Error != nil {
		return fmt.Errorf("updating user %q: %w", user.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("updating user %q: %w", user.ID, gorm.ErrRecordNotFound)
	}
	return nil
}
