package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirauth/internal/ldap"
)

func testLocalOptions() LocalOptions {
	return LocalOptions{UsernameColumn: "username", PasswordColumn: "password"}
}

func storedUser() *User {
	return &User{
		ID:        "42",
		Persisted: true,
		Attributes: map[string]any{
			"user_id":  "42",
			"username": "jdoe",
			"password": "$hash$",
		},
	}
}

func TestNewLocalResolver(t *testing.T) {
	_, err := NewLocalResolver(nil, nil, LocalOptions{})
	var cfgErr *ldap.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Errors.Errors, 4)

	_, err = NewLocalResolver(&MockUserStore{}, nil, LocalOptions{UsernameColumn: "username", PasswordColumn: "password", AllowNoPass: true})
	assert.NoError(t, err)
}

func TestLocalResolver_RetrieveByCredentials(t *testing.T) {
	tests := []struct {
		name       string
		opts       func(*LocalOptions)
		setup      func(store *MockUserStore, verifier *MockVerifier)
		password   string
		wantUser   bool
		wantErr    bool
		wantVerify bool
	}{
		{
			name: "valid password",
			setup: func(store *MockUserStore, verifier *MockVerifier) {
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(storedUser(), nil)
				verifier.On("Verify", "secret", "$hash$").Return(true)
			},
			password:   "secret",
			wantUser:   true,
			wantVerify: true,
		},
		{
			name: "wrong password",
			setup: func(store *MockUserStore, verifier *MockVerifier) {
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(storedUser(), nil)
				verifier.On("Verify", "wrong", "$hash$").Return(false)
			},
			password:   "wrong",
			wantVerify: true,
		},
		{
			name: "no matching row",
			setup: func(store *MockUserStore, _ *MockVerifier) {
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(nil, nil)
			},
			password: "secret",
		},
		{
			name: "allow no pass skips verification",
			opts: func(o *LocalOptions) { o.AllowNoPass = true },
			setup: func(store *MockUserStore, _ *MockVerifier) {
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(storedUser(), nil)
			},
			password: "",
			wantUser: true,
		},
		{
			name: "row without hash",
			setup: func(store *MockUserStore, _ *MockVerifier) {
				u := storedUser()
				delete(u.Attributes, "password")
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(u, nil)
			},
			password: "secret",
		},
		{
			name: "store fault",
			setup: func(store *MockUserStore, _ *MockVerifier) {
				store.On("FindByColumn", mock.Anything, "username", "jdoe").Return(nil, errors.New("no such table: users"))
			},
			password: "secret",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockUserStore{}
			verifier := &MockVerifier{}
			tt.setup(store, verifier)

			opts := testLocalOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			r, err := NewLocalResolver(store, verifier, opts)
			require.NoError(t, err)

			user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: tt.password})
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)

			if tt.wantUser {
				require.NotNil(t, user)
				assert.Equal(t, "42", user.ID)
			} else {
				assert.Nil(t, user)
			}

			if tt.wantVerify {
				verifier.AssertExpectations(t)
			} else {
				verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestLookup_RetrieveByIDAndToken(t *testing.T) {
	store := &MockUserStore{}
	store.On("FindByPrimaryID", mock.Anything, "42").Return(storedUser(), nil)
	store.On("FindByPrimaryID", mock.Anything, "43").Return(nil, nil)
	store.On("FindByPrimaryIDAndToken", mock.Anything, "42", "tok").Return(storedUser(), nil)
	store.On("FindByPrimaryIDAndToken", mock.Anything, "42", "bad").Return(nil, nil)

	r, err := NewLocalResolver(store, &MockVerifier{}, testLocalOptions())
	require.NoError(t, err)
	ctx := context.Background()

	user, err := r.RetrieveByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", user.ID)

	user, err = r.RetrieveByID(ctx, "43")
	require.NoError(t, err)
	assert.Nil(t, user)

	user, err = r.RetrieveByToken(ctx, "42", "tok")
	require.NoError(t, err)
	assert.NotNil(t, user)

	user, err = r.RetrieveByToken(ctx, "42", "bad")
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.True(t, r.ValidateCredentials(ctx, storedUser(), Credentials{}))
}

func TestLookup_UpdateRememberToken(t *testing.T) {
	ctx := context.Background()

	t.Run("supported", func(t *testing.T) {
		store := &MockUserStore{}
		user := storedUser()
		store.On("SupportsRememberToken", mock.Anything).Return(true, nil)
		store.On("Save", mock.Anything, user).Return(nil)

		l := lookup{store: store}
		require.NoError(t, l.UpdateRememberToken(ctx, user, "tok"))
		assert.Equal(t, "tok", user.RememberToken)
		store.AssertExpectations(t)
	})

	t.Run("unsupported is a no-op", func(t *testing.T) {
		store := &MockUserStore{}
		user := storedUser()
		store.On("SupportsRememberToken", mock.Anything).Return(false, nil)

		l := lookup{store: store}
		require.NoError(t, l.UpdateRememberToken(ctx, user, "tok"))
		assert.Empty(t, user.RememberToken)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("nil user", func(t *testing.T) {
		store := &MockUserStore{}
		l := lookup{store: store}
		assert.NoError(t, l.UpdateRememberToken(ctx, nil, "tok"))
		store.AssertNotCalled(t, "SupportsRememberToken", mock.Anything)
	})

	t.Run("save fault", func(t *testing.T) {
		store := &MockUserStore{}
		saveErr := errors.New("readonly database")
		store.On("SupportsRememberToken", mock.Anything).Return(true, nil)
		store.On("Save", mock.Anything, mock.Anything).Return(saveErr)

		l := lookup{store: store}
		assert.ErrorIs(t, l.UpdateRememberToken(ctx, storedUser(), "tok"), saveErr)
	})
}

func TestUser_Attribute(t *testing.T) {
	u := &User{Attributes: map[string]any{"name": "jdoe", "raw": []byte("x"), "n": 3, "null": nil}}

	v, ok := u.Attribute("name")
	assert.True(t, ok)
	assert.Equal(t, "jdoe", v)

	v, ok = u.Attribute("raw")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = u.Attribute("n")
	assert.False(t, ok)
	_, ok = u.Attribute("null")
	assert.False(t, ok)
	_, ok = (*User)(nil).Attribute("name")
	assert.False(t, ok)

	assert.False(t, (*User)(nil).IsValid())
}
