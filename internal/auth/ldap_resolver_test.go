package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirauth/internal/ldap"
)

const jdoeDN = "uid=jdoe,ou=people,dc=example,dc=com"

func jdoeResult(id string) *ldap.SearchResult {
	attrs := map[string][]string{
		"uid":         {"jdoe"},
		"givenName":   {"John"},
		"sn":          {"Doe"},
		"displayName": {"John Doe"},
		"mail":        {"jdoe@example.com"},
	}
	if id != "" {
		attrs["employeeNumber"] = []string{id}
	}
	return &ldap.SearchResult{Entries: []*goldap.Entry{goldap.NewEntry(jdoeDN, attrs)}}
}

func testLDAPOptions() LDAPOptions {
	return LDAPOptions{
		IDPrefix:     "emp-",
		IDAttr:       "employeeNumber",
		UsernameAttr: "uid",
		MailAttr:     "mail",
	}
}

func newTestLDAPResolver(t *testing.T, dir *MockDirectory, store *MockUserStore, mutate ...func(*LDAPOptions)) *LDAPResolver {
	t.Helper()

	opts := testLDAPOptions()
	for _, m := range mutate {
		m(&opts)
	}

	r, err := NewLDAPResolver(func(context.Context) (Directory, error) {
		return dir, nil
	}, store, opts)
	require.NoError(t, err)
	return r
}

// expectSuccessfulBind sets up the testing_bind phase for jdoe with the DN strategy.
func expectSuccessfulBind(dir *MockDirectory, result *ldap.SearchResult) {
	dir.On("Connect", mock.Anything, "", "").Return(true, nil)
	dir.On("SearchByAuth", mock.Anything, "jdoe").Return(result, nil)
	dir.On("ConnectByDN", mock.Anything, jdoeDN, "secret").Return(true, nil).Once()
	dir.On("Close").Return(nil)
}

func TestNewLDAPResolver(t *testing.T) {
	factory := func(context.Context) (Directory, error) { return nil, nil }
	store := &MockUserStore{}

	r, err := NewLDAPResolver(factory, store, LDAPOptions{IDAttr: "employeeNumber", UsernameAttr: "uid"})
	require.NoError(t, err)
	assert.Equal(t, BindStrategyDN, r.opts.BindStrategy)
	assert.Equal(t, "mail", r.opts.MailAttr)

	_, err = NewLDAPResolver(factory, store, LDAPOptions{BindStrategy: "guess"})
	var cfgErr *ldap.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Errors.Errors, 3)

	_, err = NewLDAPResolver(nil, store, testLDAPOptions())
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewLDAPResolver(factory, nil, testLDAPOptions())
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLDAPResolver_RetrieveByCredentials_Mapped(t *testing.T) {
	dir := &MockDirectory{}
	store := &MockUserStore{}
	expectSuccessfulBind(dir, jdoeResult("1001"))

	existing := &User{ID: "emp-1001", Persisted: true, Attributes: map[string]any{"user_id": "emp-1001", "display_name": "stale"}}
	store.On("FindByPrimaryID", mock.Anything, "emp-1001").Return(existing, nil)

	r := newTestLDAPResolver(t, dir, store)
	user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Same(t, existing, user)
	assert.True(t, user.IsValid())
	assert.Equal(t, map[string]string{
		AttrUID:         "jdoe",
		AttrUserID:      "1001",
		AttrFirstName:   "John",
		AttrLastName:    "Doe",
		AttrDisplayName: "John Doe",
		AttrEmail:       "jdoe@example.com",
	}, user.SearchAttributes)

	dir.AssertExpectations(t)
	store.AssertExpectations(t)
	dir.AssertNumberOfCalls(t, "Connect", 2)
	dir.AssertNumberOfCalls(t, "SearchByAuth", 2)
	dir.AssertNumberOfCalls(t, "Close", 1)
}

func TestLDAPResolver_RetrieveByCredentials_NoRecord(t *testing.T) {
	tests := []struct {
		name        string
		provisional bool
		wantUser    bool
	}{
		{name: "provisional disabled", provisional: false, wantUser: false},
		{name: "provisional enabled", provisional: true, wantUser: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &MockDirectory{}
			store := &MockUserStore{}
			expectSuccessfulBind(dir, jdoeResult("1001"))
			store.On("FindByPrimaryID", mock.Anything, "emp-1001").Return(nil, nil)

			r := newTestLDAPResolver(t, dir, store, func(o *LDAPOptions) {
				o.ReturnProvisional = tt.provisional
			})
			user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
			require.NoError(t, err)

			if !tt.wantUser {
				assert.Nil(t, user)
				return
			}
			require.NotNil(t, user)
			assert.False(t, user.IsValid())
			assert.Equal(t, "emp-1001", user.ID)
			assert.Equal(t, "1001", user.SearchAttributes[AttrUserID])
			assert.Equal(t, "jdoe", user.SearchAttributes[AttrUID])
		})
	}
}

func TestLDAPResolver_RetrieveByCredentials_EmptyID(t *testing.T) {
	for _, provisional := range []bool{false, true} {
		dir := &MockDirectory{}
		store := &MockUserStore{}
		expectSuccessfulBind(dir, jdoeResult(""))

		r := newTestLDAPResolver(t, dir, store, func(o *LDAPOptions) {
			o.ReturnProvisional = provisional
		})
		user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
		require.NoError(t, err)
		assert.Nil(t, user)
		store.AssertNotCalled(t, "FindByPrimaryID", mock.Anything, mock.Anything)
	}
}

func TestLDAPResolver_RetrieveByCredentials_Rejected(t *testing.T) {
	connFault := ldap.NewLDAPError("connect", ldap.NewConnectionError("failed to connect", errors.New("connection refused")))

	tests := []struct {
		name  string
		setup func(dir *MockDirectory)
	}{
		{
			name: "user bind refused",
			setup: func(dir *MockDirectory) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(jdoeResult("1001"), nil)
				dir.On("ConnectByDN", mock.Anything, jdoeDN, "secret").Return(false, nil)
			},
		},
		{
			name: "no matching entry",
			setup: func(dir *MockDirectory) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(&ldap.SearchResult{}, nil)
			},
		},
		{
			name: "service bind refused",
			setup: func(dir *MockDirectory) {
				dir.On("Connect", mock.Anything, "", "").Return(false, nil)
			},
		},
		{
			name: "directory unreachable",
			setup: func(dir *MockDirectory) {
				dir.On("Connect", mock.Anything, "", "").Return(false, connFault)
			},
		},
		{
			name: "connection lost during user bind",
			setup: func(dir *MockDirectory) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(jdoeResult("1001"), nil)
				dir.On("ConnectByDN", mock.Anything, jdoeDN, "secret").Return(false, connFault)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &MockDirectory{}
			store := &MockUserStore{}
			tt.setup(dir)
			dir.On("Close").Return(nil)

			r := newTestLDAPResolver(t, dir, store)
			user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
			assert.NoError(t, err)
			assert.Nil(t, user)

			store.AssertNotCalled(t, "FindByPrimaryID", mock.Anything, mock.Anything)
			dir.AssertCalled(t, "Close")
		})
	}
}

func TestLDAPResolver_RetrieveByCredentials_Faults(t *testing.T) {
	filterErr := ldap.NewLDAPError("search", goldap.NewError(goldap.LDAPResultFilterError, errors.New("bad filter")))
	busy := ldap.NewLDAPError("search", goldap.NewError(goldap.LDAPResultBusy, errors.New("busy")))
	misconfigured := ldap.NewConfigError(ldap.NewLDAPError("bind", goldap.NewError(goldap.LDAPResultInvalidDNSyntax, errors.New("invalid DN"))))
	storeErr := errors.New("database is locked")

	tests := []struct {
		name    string
		setup   func(dir *MockDirectory, store *MockUserStore)
		wantErr error
	}{
		{
			name: "unexpected fault while testing credentials",
			setup: func(dir *MockDirectory, _ *MockUserStore) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(nil, filterErr)
			},
			wantErr: filterErr,
		},
		{
			name: "service identity misconfigured",
			setup: func(dir *MockDirectory, _ *MockUserStore) {
				dir.On("Connect", mock.Anything, "", "").Return(false, misconfigured)
			},
			wantErr: misconfigured,
		},
		{
			name: "search fault after bind",
			setup: func(dir *MockDirectory, _ *MockUserStore) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(jdoeResult("1001"), nil).Once()
				dir.On("ConnectByDN", mock.Anything, jdoeDN, "secret").Return(true, nil)
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(nil, busy).Once()
			},
			wantErr: busy,
		},
		{
			name: "service identity refused after bind",
			setup: func(dir *MockDirectory, _ *MockUserStore) {
				dir.On("Connect", mock.Anything, "", "").Return(true, nil).Once()
				dir.On("SearchByAuth", mock.Anything, "jdoe").Return(jdoeResult("1001"), nil).Once()
				dir.On("ConnectByDN", mock.Anything, jdoeDN, "secret").Return(true, nil)
				dir.On("Connect", mock.Anything, "", "").Return(false, nil).Once()
			},
			wantErr: ErrServiceBindRejected,
		},
		{
			name: "store fault",
			setup: func(dir *MockDirectory, store *MockUserStore) {
				expectSuccessfulBind(dir, jdoeResult("1001"))
				store.On("FindByPrimaryID", mock.Anything, "emp-1001").Return(nil, storeErr)
			},
			wantErr: storeErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &MockDirectory{}
			store := &MockUserStore{}
			tt.setup(dir, store)
			dir.On("Close").Return(nil)

			r := newTestLDAPResolver(t, dir, store)
			user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
			assert.Nil(t, user)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLDAPResolver_UsernameStrategy(t *testing.T) {
	dir := &MockDirectory{}
	store := &MockUserStore{}
	dir.On("Connect", mock.Anything, "", "").Return(true, nil)
	dir.On("SearchByAuth", mock.Anything, "jdoe@example.com").Return(jdoeResult("1001"), nil)
	dir.On("Connect", mock.Anything, "jdoe", "secret").Return(true, nil)
	dir.On("Close").Return(nil)
	store.On("FindByPrimaryID", mock.Anything, "emp-1001").Return(&User{ID: "emp-1001", Persisted: true}, nil)

	r := newTestLDAPResolver(t, dir, store, func(o *LDAPOptions) {
		o.BindStrategy = BindStrategyUsername
	})
	user, err := r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe@example.com", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "emp-1001", user.ID)

	dir.AssertNotCalled(t, "ConnectByDN", mock.Anything, mock.Anything, mock.Anything)
}

func TestLDAPResolver_FactoryError(t *testing.T) {
	factoryErr := errors.New("no handler")
	r, err := NewLDAPResolver(func(context.Context) (Directory, error) {
		return nil, factoryErr
	}, &MockUserStore{}, testLDAPOptions())
	require.NoError(t, err)

	_, err = r.RetrieveByCredentials(context.Background(), Credentials{Username: "jdoe", Password: "secret"})
	assert.ErrorIs(t, err, factoryErr)

	_, err = r.TestCredentials(context.Background(), "jdoe", "secret")
	assert.ErrorIs(t, err, factoryErr)
}

func TestLDAPResolver_TestCredentials(t *testing.T) {
	dir := &MockDirectory{}
	expectSuccessfulBind(dir, jdoeResult("1001"))

	r := newTestLDAPResolver(t, dir, &MockUserStore{})
	ok, err := r.TestCredentials(context.Background(), "jdoe", "secret")
	require.NoError(t, err)
	assert.True(t, ok)
	dir.AssertNumberOfCalls(t, "Close", 1)
}

func TestLDAPResolver_Logging(t *testing.T) {
	var buf bytes.Buffer
	ctx := tflogtest.RootLogger(context.Background(), &buf)
	ctx = tflog.NewSubsystem(ctx, Subsystem)

	dir := &MockDirectory{}
	store := &MockUserStore{}
	expectSuccessfulBind(dir, jdoeResult("1001"))
	store.On("FindByPrimaryID", mock.Anything, "emp-1001").Return(&User{ID: "emp-1001", Persisted: true}, nil)

	r := newTestLDAPResolver(t, dir, store)
	_, err := r.RetrieveByCredentials(ctx, Credentials{Username: "jdoe", Password: "hunter2"})
	require.NoError(t, err)

	entries, err := tflogtest.MultilineJSONDecode(&buf)
	require.NoError(t, err)

	var states []any
	var resolutionID any
	for _, e := range entries {
		if e["@message"] != "Resolution state changed" {
			continue
		}
		states = append(states, e["state"])
		require.NotEmpty(t, e["resolution_id"])
		if resolutionID == nil {
			resolutionID = e["resolution_id"]
		}
		assert.Equal(t, resolutionID, e["resolution_id"])
	}
	assert.Equal(t, []any{StateStart, StateTestingBind, StateBound, StateSearching, StateMapped, StateResolved}, states)
	assert.NotContains(t, buf.String(), "hunter2")
}
