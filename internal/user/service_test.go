package user

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/user/entity"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Create(ctx context.Context, u *entity.User) (int64, error) {
	args := m.Called(ctx, u)
	id := args.Get(0).(int64)
	if args.Error(1) == nil {
		u.ID = id
	}
	return id, args.Error(1)
}

func (m *mockStore) GetActiveByLogin(ctx context.Context, login string) (*entity.User, error) {
	args := m.Called(ctx, login)
	u, _ := args.Get(0).(*entity.User)
	return u, args.Error(1)
}

func (m *mockStore) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*entity.User)
	return u, args.Error(1)
}

func (m *mockStore) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	args := m.Called(ctx, username, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) TouchLogin(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	live map[string]int64
}

func newMemSessions() *memSessions { return &memSessions{live: map[string]int64{}} }

func (s *memSessions) Save(_ context.Context, jti string, userID int64, _ time.Time) error {
	s.live[jti] = userID
	return nil
}

func (s *memSessions) Consume(_ context.Context, jti string, userID int64) (bool, error) {
	if uid, ok := s.live[jti]; ok && uid == userID {
		delete(s.live, jti)
		return true, nil
	}
	return false, nil
}

func (s *memSessions) Delete(_ context.Context, jti string) error {
	delete(s.live, jti)
	return nil
}

func (s *memSessions) DeleteByUser(_ context.Context, userID int64) error {
	for k, v := range s.live {
		if v == userID {
			delete(s.live, k)
		}
	}
	return nil
}

func newTestService(store Store, sessions SessionStore) (*UserService, *auth.TokenService, auth.Revoker) {
	tokens := auth.NewTokenService(auth.TokenConfig{AccessSecret: "a", RefreshSecret: "r", AccessTTL: time.Hour, RefreshTTL: 48 * time.Hour})
	rev := auth.NewMemoryRevoker()
	return NewUserService(store, sessions, tokens, rev, BcryptHasher{Cost: 4}, nil), tokens, rev
}

func hashed(t *testing.T, pw string) string {
	t.Helper()
	h, err := BcryptHasher{Cost: 4}.Hash(pw)
	require.NoError(t, err)
	return h
}

func TestLoginSuccess(t *testing.T) {
	store := &mockStore{}
	svc, tokens, _ := newTestService(store, newMemSessions())
	u := &entity.User{ID: 1, Username: "admin", Email: "admin@x.com", Role: auth.RoleAdmin, IsActive: true, PasswordHash: hashed(t, "Secret123")}
	store.On("GetActiveByLogin", mock.Anything, "admin@x.com").Return(u, nil)
	store.On("TouchLogin", mock.Anything, int64(1)).Return(nil)

	res, err := svc.Login(context.Background(), " admin@x.com ", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, entity.AuthView{ID: 1, Username: "admin", Email: "admin@x.com", Role: "admin"}, res.User)

	c, err := tokens.ParseAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UserID)
	store.AssertExpectations(t)
}

func TestLoginIndistinguishableFailures(t *testing.T) {
	store := &mockStore{}
	svc, _, _ := newTestService(store, newMemSessions())
	store.On("GetActiveByLogin", mock.Anything, "ghost").Return(nil, sql.ErrNoRows)
	store.On("GetActiveByLogin", mock.Anything, "admin").Return(&entity.User{ID: 1, IsActive: true, PasswordHash: hashed(t, "Secret123")}, nil)

	_, err1 := svc.Login(context.Background(), "ghost", "whatever")
	_, err2 := svc.Login(context.Background(), "admin", "wrong")
	assert.ErrorIs(t, err1, ErrBadCredentials)
	assert.ErrorIs(t, err2, ErrBadCredentials)
	store.AssertNotCalled(t, "TouchLogin", mock.Anything, mock.Anything)
}

func TestLoginRehashesOutdatedCost(t *testing.T) {
	store := &mockStore{}
	tokens := auth.NewTokenService(auth.TokenConfig{AccessSecret: "a", RefreshSecret: "r"})
	svc := NewUserService(store, newMemSessions(), tokens, nil, BcryptHasher{Cost: 5}, nil)
	store.On("GetActiveByLogin", mock.Anything, "bob").Return(&entity.User{ID: 2, IsActive: true, PasswordHash: hashed(t, "Secret123")}, nil)
	store.On("TouchLogin", mock.Anything, int64(2)).Return(nil)
	store.On("UpdatePassword", mock.Anything, int64(2), mock.AnythingOfType("string")).Return(nil)

	_, err := svc.Login(context.Background(), "bob", "Secret123")
	require.NoError(t, err)
	store.AssertCalled(t, "UpdatePassword", mock.Anything, int64(2), mock.AnythingOfType("string"))
}

func TestLoginSucceedsWhenRehashFails(t *testing.T) {
	store := &mockStore{}
	core, logs := observer.New(zap.WarnLevel)
	tokens := auth.NewTokenService(auth.TokenConfig{AccessSecret: "a", RefreshSecret: "r"})
	svc := NewUserService(store, newMemSessions(), tokens, nil, BcryptHasher{Cost: 5}, zap.New(core).Sugar())
	store.On("GetActiveByLogin", mock.Anything, "bob").Return(&entity.User{ID: 2, IsActive: true, PasswordHash: hashed(t, "Secret123")}, nil)
	store.On("TouchLogin", mock.Anything, int64(2)).Return(nil)
	store.On("UpdatePassword", mock.Anything, int64(2), mock.AnythingOfType("string")).Return(errors.New("deadlock"))

	res, err := svc.Login(context.Background(), "bob", "Secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	entries := logs.FilterMessage("password rehash failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["user_id"])
}

func TestRegisterCreatesViewer(t *testing.T) {
	store := &mockStore{}
	svc, tokens, _ := newTestService(store, newMemSessions())
	store.On("ExistsByUsernameOrEmail", mock.Anything, "bob", "bob@x.com").Return(false, nil)
	store.On("Create", mock.Anything, mock.MatchedBy(func(u *entity.User) bool {
		return u.Role == auth.RoleViewer && u.IsActive && u.PasswordHash != "Str0ng!Pass" && BcryptHasher{}.Verify(u.PasswordHash, "Str0ng!Pass")
	})).Return(int64(10), nil)

	res, err := svc.Register(context.Background(), "bob", "Bob@X.com", "Str0ng!Pass")
	require.NoError(t, err)
	assert.Equal(t, "viewer", res.User.Role)
	assert.Equal(t, int64(10), res.User.ID)
	_, err = tokens.ParseRefresh(res.RefreshToken)
	assert.NoError(t, err)
}

func TestRegisterDuplicate(t *testing.T) {
	store := &mockStore{}
	svc, _, _ := newTestService(store, newMemSessions())
	store.On("ExistsByUsernameOrEmail", mock.Anything, "bob", "bob@x.com").Return(true, nil)

	_, err := svc.Register(context.Background(), "bob", "bob@x.com", "Str0ng!Pass")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	store := &mockStore{}
	sessions := newMemSessions()
	svc, _, _ := newTestService(store, sessions)
	u := &entity.User{ID: 1, IsActive: true, PasswordHash: hashed(t, "Secret123")}
	store.On("GetActiveByLogin", mock.Anything, "admin").Return(u, nil)
	store.On("TouchLogin", mock.Anything, int64(1)).Return(nil)
	store.On("GetByID", mock.Anything, int64(1)).Return(u, nil)

	login, err := svc.Login(context.Background(), "admin", "Secret123")
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(context.Background(), login.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = svc.Refresh(context.Background(), next.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshErrors(t *testing.T) {
	store := &mockStore{}
	svc, tokens, _ := newTestService(store, newMemSessions())

	_, err := svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingRefresh)
	_, err = svc.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	p, err := tokens.Issue(3)
	require.NoError(t, err)
	store.On("GetByID", mock.Anything, int64(3)).Return(&entity.User{ID: 3, IsActive: false}, nil)
	_, err = svc.Refresh(context.Background(), p.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	store := &mockStore{}
	sessions := newMemSessions()
	svc, tokens, rev := newTestService(store, sessions)
	p, err := tokens.Issue(1)
	require.NoError(t, err)
	require.NoError(t, sessions.Save(context.Background(), p.RefreshJTI, 1, p.RefreshExpiresAt))

	id := &auth.Identity{UserID: 1, JTI: p.AccessJTI, ExpiresAt: p.AccessExpiresAt}
	require.NoError(t, svc.Logout(context.Background(), id, p.RefreshToken))

	revoked, err := rev.IsRevoked(context.Background(), p.AccessJTI)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Empty(t, sessions.live)
}

func TestChangePassword(t *testing.T) {
	store := &mockStore{}
	sessions := newMemSessions()
	svc, _, _ := newTestService(store, sessions)
	sessions.live["a"] = 1
	sessions.live["b"] = 2
	store.On("GetByID", mock.Anything, int64(1)).Return(&entity.User{ID: 1, PasswordHash: hashed(t, "Old12345")}, nil)
	store.On("UpdatePassword", mock.Anything, int64(1), mock.AnythingOfType("string")).Return(nil)

	assert.ErrorIs(t, svc.ChangePassword(context.Background(), 1, "nope", "New12345"), ErrWrongPassword)
	assert.ErrorIs(t, svc.ChangePassword(context.Background(), 1, "Old12345", "weak"), ErrWeakPassword)
	require.NoError(t, svc.ChangePassword(context.Background(), 1, "Old12345", "New12345"))
	assert.Equal(t, map[string]int64{"b": 2}, sessions.live)
}

func TestLoadIdentity(t *testing.T) {
	store := &mockStore{}
	svc, _, _ := newTestService(store, newMemSessions())
	store.On("GetByID", mock.Anything, int64(1)).Return(&entity.User{ID: 1, Username: "a", Role: "editor", IsActive: true}, nil)
	store.On("GetByID", mock.Anything, int64(2)).Return(&entity.User{ID: 2, IsActive: false}, nil)
	store.On("GetByID", mock.Anything, int64(3)).Return(nil, sql.ErrNoRows)

	id, err := svc.LoadIdentity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "editor", id.Role)

	_, err = svc.LoadIdentity(context.Background(), 2)
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
	_, err = svc.LoadIdentity(context.Background(), 3)
	assert.ErrorIs(t, err, auth.ErrUnknownUser)
}
