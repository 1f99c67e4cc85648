package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/auth-api/internal/events"
	"github.com/noah-isme/auth-api/internal/models"
	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

type mockUserRepo struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	nextID    int64
	findErr   error
	createErr error
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	repo := &mockUserRepo{users: make(map[int64]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
		if u.ID > repo.nextID {
			repo.nextID = u.ID
		}
	}
	return repo
}

func (m *mockUserRepo) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if u.Email == identifier || u.Username == identifier {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, u := range m.users {
		if u.Username == user.Username {
			return &appErrors.ConstraintError{Table: "users", Column: "username", Constraint: "users_username_key"}
		}
		if u.Email == user.Email {
			return &appErrors.ConstraintError{Table: "users", Column: "email", Constraint: "users_email_key"}
		}
	}
	m.nextID++
	user.ID = m.nextID
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

type countingHasher struct {
	*BcryptHasher
	mu       sync.Mutex
	compares int
}

func (c *countingHasher) Compare(hash, password string) error {
	c.mu.Lock()
	c.compares++
	c.mu.Unlock()
	return c.BcryptHasher.Compare(hash, password)
}

type staticRoles struct {
	err error
}

func (s staticRoles) Resolve(ctx context.Context, name models.RoleName) (*models.Role, error) {
	if s.err != nil {
		return nil, s.err
	}
	ids := map[models.RoleName]int64{models.RoleUser: 1, models.RoleAdmin: 2, models.RoleEditor: 3}
	id, ok := ids[name]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.Role{ID: id, Name: name}, nil
}

type recordedEvent struct {
	Type   string
	UserID int64
	Attrs  map[string]interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(eventType string, userID int64, username string, attrs map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: eventType, UserID: userID, Attrs: attrs})
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type authFixture struct {
	svc     *AuthService
	users   *mockUserRepo
	tokens  *TokenService
	store   *memoryTokenStore
	emitter *recordingEmitter
}

func newAuthFixture(t *testing.T, users ...*models.User) *authFixture {
	t.Helper()
	tokens, store, _ := newTestTokenService(t)
	repo := newMockUserRepo(users...)
	emitter := &recordingEmitter{}
	svc := NewAuthService(repo, tokens, NewBcryptHasher(bcrypt.MinCost), staticRoles{}, emitter, validator.New(), zap.NewNop())
	return &authFixture{svc: svc, users: repo, tokens: tokens, store: store, emitter: emitter}
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := NewBcryptHasher(bcrypt.MinCost).Hash(password)
	require.NoError(t, err)
	return hash
}

func TestAuthServiceRegister(t *testing.T) {
	f := newAuthFixture(t)

	res, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Username: " new_user ",
		Email:    "New.User@Example.com ",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "new_user", res.User.Username)
	assert.Equal(t, "new.user@example.com", res.User.Email)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	stored := f.users.users[res.User.ID]
	require.NotNil(t, stored)
	assert.NotEqual(t, "secret123", stored.PasswordHash)
	assert.Equal(t, int64(1), stored.RoleID)

	claims, err := f.tokens.VerifyRefreshToken(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.Equal(t, []string{events.TypeUserRegistered}, f.emitter.types())
}

func TestAuthServiceRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)
	cases := map[string]models.RegisterRequest{
		"short username":                   {Username: "ab", Email: "a@example.com", Password: "secret123"},
		"invalid username":                 {Username: "bad name!", Email: "a@example.com", Password: "secret123"},
		"invalid email":                    {Username: "valid_name", Email: "not-an-email", Password: "secret123"},
		"short password":                   {Username: "valid_name", Email: "a@example.com", Password: "12345"},
		"long username":                    {Username: strings.Repeat("a", 51), Email: "a@example.com", Password: "secret123"},
		"long password":                    {Username: "valid_name", Email: "a@example.com", Password: strings.Repeat("a", 73)},
		"multibyte password over 72 bytes": {Username: "valid_name", Email: "a@example.com", Password: strings.Repeat("é", 40)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, f.users.users)
}

func TestAuthServiceRegisterDuplicate(t *testing.T) {
	existing := &models.User{ID: 1, Username: "taken", Email: "taken@example.com", RoleName: models.RoleUser}
	f := newAuthFixture(t, existing)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{Username: "taken", Email: "fresh@example.com", Password: "secret123"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "username")

	_, err = f.svc.Register(context.Background(), models.RegisterRequest{Username: "fresh", Email: "taken@example.com", Password: "secret123"})
	require.Error(t, err)
	appErr = appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "email")
	assert.Empty(t, f.store.rows)
}

func TestAuthServiceRegisterStoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.users.createErr = errors.New("connection refused")

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{Username: "someone", Email: "s@example.com", Password: "secret123"})
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
}

func TestAuthServiceRegisterMultibytePasswordWithinLimit(t *testing.T) {
	f := newAuthFixture(t)
	password := strings.Repeat("é", 36)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{Username: "accent", Email: "accent@example.com", Password: password})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), models.LoginRequest{Identifier: "accent", Password: password})
	assert.NoError(t, err)
}

func TestAuthServiceRegisterTokenFailureLeavesNoAccount(t *testing.T) {
	f := newAuthFixture(t)
	req := models.RegisterRequest{Username: "retry_me", Email: "retry@example.com", Password: "secret123"}

	f.store.createErr = context.DeadlineExceeded
	_, err := f.svc.Register(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
	assert.Empty(t, f.users.users)
	assert.Empty(t, f.emitter.types())

	f.store.createErr = nil
	res, err := f.svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "retry_me", res.User.Username)
	assert.Len(t, f.users.users, 1)
}

func TestAuthServiceLogin(t *testing.T) {
	user := &models.User{ID: 42, Username: "alice", Email: "alice@example.com", PasswordHash: hashed(t, "password"), RoleID: 2, RoleName: models.RoleAdmin}
	f := newAuthFixture(t, user)

	for _, identifier := range []string{"alice", "alice@example.com", " ALICE@example.com "} {
		res, err := f.svc.Login(context.Background(), models.LoginRequest{Identifier: identifier, Password: "password"})
		require.NoError(t, err, identifier)
		assert.Equal(t, int64(42), res.User.ID)
		assert.Equal(t, models.RoleAdmin, res.User.Role)

		claims, err := f.tokens.VerifyAccessToken(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)
	}
	assert.Len(t, f.store.rows, 3)
	assert.Equal(t, []string{events.TypeUserLoggedIn, events.TypeUserLoggedIn, events.TypeUserLoggedIn}, f.emitter.types())
}

func TestAuthServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	user := &models.User{ID: 1, Username: "alice", Email: "alice@example.com", PasswordHash: hashed(t, "password"), RoleName: models.RoleUser}
	f := newAuthFixture(t, user)

	_, unknownErr := f.svc.Login(context.Background(), models.LoginRequest{Identifier: "bob", Password: "password"})
	_, wrongErr := f.svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "nope"})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, appErrors.FromError(unknownErr).Message, appErrors.FromError(wrongErr).Message)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Status, appErrors.FromError(wrongErr).Status)
	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.emitter.types())
}

func TestAuthServiceLoginUnknownUserStillComparesPassword(t *testing.T) {
	tokens, _, _ := newTestTokenService(t)
	hasher := &countingHasher{BcryptHasher: NewBcryptHasher(bcrypt.MinCost)}
	user := &models.User{ID: 1, Username: "alice", Email: "alice@example.com", PasswordHash: hashed(t, "password"), RoleName: models.RoleUser}
	svc := NewAuthService(newMockUserRepo(user), tokens, hasher, staticRoles{}, nil, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Identifier: "nobody", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, 1, hasher.compares)

	_, err = svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, 2, hasher.compares)
}

func TestAuthServiceLoginStoreFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.users.findErr = errors.New("timeout")

	_, err := f.svc.Login(context.Background(), models.LoginRequest{Identifier: "alice", Password: "password"})
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
}

func TestAuthServiceRefresh(t *testing.T) {
	user := &models.User{ID: 42, Username: "alice", Email: "alice@example.com", RoleName: models.RoleUser}
	f := newAuthFixture(t, user)
	refresh, err := f.tokens.MintRefreshToken(context.Background(), user.Identity())
	require.NoError(t, err)

	// role changes are picked up on refresh
	user.RoleName = models.RoleEditor

	res, err := f.svc.Refresh(context.Background(), models.RefreshTokenRequest{Token: refresh})
	require.NoError(t, err)
	claims, err := f.tokens.VerifyAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, claims.Role)

	// the refresh token stays usable
	_, err = f.tokens.VerifyRefreshToken(context.Background(), refresh)
	assert.NoError(t, err)
}

func TestAuthServiceRefreshRejections(t *testing.T) {
	user := &models.User{ID: 42, Username: "alice", RoleName: models.RoleUser}
	f := newAuthFixture(t, user)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, models.RefreshTokenRequest{Token: ""})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Refresh(ctx, models.RefreshTokenRequest{Token: "not-a-jwt"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	refresh, err := f.tokens.MintRefreshToken(ctx, user.Identity())
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: refresh}))

	_, err = f.svc.Refresh(ctx, models.RefreshTokenRequest{Token: refresh})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidToken))
}

func TestAuthServiceRefreshRevokesTokenOfVanishedUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	refresh, err := f.tokens.MintRefreshToken(ctx, models.Identity{ID: 404})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, models.RefreshTokenRequest{Token: refresh})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidToken))
	assert.True(t, f.store.rows[refresh].Revoked)
}

func TestAuthServiceLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	refresh, err := f.tokens.MintRefreshToken(ctx, models.Identity{ID: 42})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: refresh}))

	err = f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: refresh})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = f.svc.Logout(ctx, models.LogoutRequest{RefreshToken: "unknown"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	err = f.svc.Logout(ctx, models.LogoutRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, events.TypeSessionRevoked, f.emitter.events[0].Type)
	assert.Equal(t, int64(42), f.emitter.events[0].UserID)
}

func TestAuthServiceLogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.tokens.MintRefreshToken(ctx, models.Identity{ID: 7})
		require.NoError(t, err)
	}

	res, err := f.svc.LogoutAll(ctx, models.CurrentUser{ID: 7, Username: "seven"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Revoked)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, events.TypeSessionsRevokedAll, f.emitter.events[0].Type)
	assert.Equal(t, int64(2), f.emitter.events[0].Attrs["revoked"])
}

func TestAuthServiceProfile(t *testing.T) {
	user := &models.User{ID: 3, Username: "carol", Email: "carol@example.com", PasswordHash: "hash", RoleName: models.RoleEditor}
	f := newAuthFixture(t, user)

	info, err := f.svc.Profile(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, models.UserInfo{ID: 3, Username: "carol", Email: "carol@example.com", Role: models.RoleEditor}, *info)

	_, err = f.svc.Profile(context.Background(), 99)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestAuthServiceWorksWithoutEmitter(t *testing.T) {
	tokens, _, _ := newTestTokenService(t)
	svc := NewAuthService(newMockUserRepo(), tokens, NewBcryptHasher(bcrypt.MinCost), staticRoles{}, nil, nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "quiet", Email: "q@example.com", Password: "secret123"})
	assert.NoError(t, err)
}
