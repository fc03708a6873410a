package auth

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/isometry/dirauth/internal/ldap"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Connect(ctx context.Context, username, password string) (bool, error) {
	args := m.Called(ctx, username, password)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) ConnectByDN(ctx context.Context, dn, password string) (bool, error) {
	args := m.Called(ctx, dn, password)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) SearchByAuth(ctx context.Context, value string) (*ldap.SearchResult, error) {
	args := m.Called(ctx, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ldap.SearchResult), args.Error(1)
}

// GetAttributeFromResults uses the real extraction so tests only describe entries.
func (m *MockDirectory) GetAttributeFromResults(result *ldap.SearchResult, attr string) (string, bool) {
	return ldap.GetAttributeFromResults(result, attr)
}

func (m *MockDirectory) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) NewUser() *User {
	return &User{Attributes: map[string]any{}}
}

func (m *MockUserStore) FindByPrimaryID(ctx context.Context, id string) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockUserStore) FindByPrimaryIDAndToken(ctx context.Context, id, token string) (*User, error) {
	args := m.Called(ctx, id, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockUserStore) FindByColumn(ctx context.Context, column, value string) (*User, error) {
	args := m.Called(ctx, column, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *MockUserStore) SupportsRememberToken(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserStore) Save(ctx context.Context, user *User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(plain, hash string) bool {
	args := m.Called(plain, hash)
	return args.Bool(0)
}
