package auth

import (
	"context"
)

// Keys of User.SearchAttributes.
const (
	AttrUID         = "uid"
	AttrUserID      = "user_id"
	AttrFirstName   = "first_name"
	AttrLastName    = "last_name"
	AttrDisplayName = "display_name"
	AttrEmail       = "email"
)

// User is a local user record, either loaded from the store or built in
// memory from directory attributes.
type User struct {
	ID            string         `json:"id,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	RememberToken string         `json:"-"`

	// SearchAttributes is only set for users resolved through the directory.
	SearchAttributes map[string]string `json:"search_attributes,omitempty"`

	Persisted bool `json:"persisted"`
}

// IsValid reports whether the user exists in the store.
func (u *User) IsValid() bool {
	return u != nil && u.Persisted
}

// Attribute returns a stored column as a string.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil || u.Attributes == nil {
		return "", false
	}
	v, ok := u.Attributes[name]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

// UserStore is the local user table. Lookups report a missing record as a nil
// user with a nil error.
type UserStore interface {
	// NewUser returns an unpersisted user.
	NewUser() *User
	FindByPrimaryID(ctx context.Context, id string) (*User, error)
	FindByPrimaryIDAndToken(ctx context.Context, id, token string) (*User, error)
	FindByColumn(ctx context.Context, column, value string) (*User, error)
	// SupportsRememberToken reports whether the schema has a remember token column.
	SupportsRememberToken(ctx context.Context) (bool, error)
	Save(ctx context.Context, user *User) error
}

// Verifier compares a plaintext password with a stored hash.
type Verifier interface {
	Verify(plain, hash string) bool
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(plain, hash string) bool

func (f VerifierFunc) Verify(plain, hash string) bool {
	return f(plain, hash)
}
