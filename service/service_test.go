package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"nistmatch/apperror"
	"nistmatch/auth"
	"nistmatch/models"
	"nistmatch/repository"
	"nistmatch/session"
)

type mockUserRepo struct {
	mu         sync.Mutex
	byID       map[primitive.ObjectID]models.User
	byExternal map[string]primitive.ObjectID

	updateCalls int
	err         error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		byID:       make(map[primitive.ObjectID]models.User),
		byExternal: make(map[string]primitive.ObjectID),
	}
}

func (m *mockUserRepo) FindOrCreateByExternalID(_ context.Context, seed models.User) (models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.User{}, false, m.err
	}
	if id, ok := m.byExternal[seed.ExternalID]; ok {
		return m.byID[id], false, nil
	}
	if seed.ID.IsZero() {
		seed.ID = primitive.NewObjectID()
	}
	seed.CreatedAt = time.Now().UTC()
	seed.UpdatedAt = seed.CreatedAt
	m.byID[seed.ID] = seed
	m.byExternal[seed.ExternalID] = seed.ID
	return seed, true, nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id primitive.ObjectID) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.User{}, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return models.User{}, repository.ErrNotFound
	}
	return u, nil
}

// UpdateProfile applies the $set through a bson round trip, as the store would.
func (m *mockUserRepo) UpdateProfile(_ context.Context, id primitive.ObjectID, update models.ProfileUpdate) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.err != nil {
		return models.User{}, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return models.User{}, repository.ErrNotFound
	}

	raw, err := bson.Marshal(u)
	if err != nil {
		return models.User{}, err
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return models.User{}, err
	}
	for k, v := range update {
		if models.IsProfileField(k) {
			doc[k] = v
		}
	}
	raw, err = bson.Marshal(doc)
	if err != nil {
		return models.User{}, err
	}
	var merged models.User
	if err := bson.Unmarshal(raw, &merged); err != nil {
		return models.User{}, err
	}
	merged.UpdatedAt = time.Now().UTC()
	m.byID[id] = merged
	return merged, nil
}

func (m *mockUserRepo) List(_ context.Context, filter map[string]string, _ int64) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	users := []models.User{}
	for _, u := range m.byID {
		match := true
		for k, v := range filter {
			if models.IsProfileField(k) && u.Field(k) != v {
				match = false
			}
		}
		if match {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *mockUserRepo) delete(id primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byID[id]
	delete(m.byExternal, u.ExternalID)
	delete(m.byID, id)
}

var testDest = Destinations{
	Default:         "http://localhost:5173/",
	CompleteProfile: "http://localhost:5173/create-profile",
	Failure:         "http://localhost:5173/login",
}

func newTestIdentity(repo *mockUserRepo) (*IdentityService, *session.Manager) {
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	return NewIdentityService(repo, sessions, testDest, zap.NewNop()), sessions
}

func googleIdentity(subject string) auth.ExternalIdentity {
	return auth.ExternalIdentity{
		Provider:    "google",
		Subject:     subject,
		DisplayName: "Asha Rao",
		Email:       "asha@example.com",
		PictureURL:  "https://lh3.example/p.jpg",
	}
}

func TestNewUserFromIdentity(t *testing.T) {
	u := NewUserFromIdentity(auth.ExternalIdentity{Provider: "google", Subject: "s1", DisplayName: " Asha "})
	assert.Equal(t, "s1", u.ExternalID)
	assert.Equal(t, "google", u.AuthProvider)
	assert.Equal(t, "Asha", u.Name)
	assert.Equal(t, models.NoEmailProvided, u.Email)
	assert.True(t, u.ID.IsZero())

	u = NewUserFromIdentity(googleIdentity("s2"))
	assert.Equal(t, "asha@example.com", u.Email)
	assert.Equal(t, "https://lh3.example/p.jpg", u.ProfilePic)
}

func TestResolveIdentity_Idempotent(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestIdentity(repo)
	ctx := context.Background()

	first, created, err := svc.ResolveIdentity(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)
	assert.True(t, created)

	const n = 20
	var wg sync.WaitGroup
	ids := make([]primitive.ObjectID, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, _, err := svc.ResolveIdentity(ctx, googleIdentity("sub-1"))
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, first.ID, ids[i])
	}
	assert.Len(t, repo.byID, 1)
}

func TestResolveIdentity_ExistingUserUntouched(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestIdentity(repo)
	ctx := context.Background()

	u, _, err := svc.ResolveIdentity(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)
	_, err = repo.UpdateProfile(ctx, u.ID, models.ProfileUpdate{"name": "Asha R.", "age": "27"})
	require.NoError(t, err)

	changed := googleIdentity("sub-1")
	changed.DisplayName = "Someone Else"
	changed.Email = "new@example.com"
	again, created, err := svc.ResolveIdentity(ctx, changed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Asha R.", again.Name)
	assert.Equal(t, "asha@example.com", again.Email)
	assert.Equal(t, "27", again.Age)
}

func TestResolveIdentity_Errors(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestIdentity(repo)

	_, _, err := svc.ResolveIdentity(context.Background(), auth.ExternalIdentity{Provider: "google"})
	assert.ErrorIs(t, err, apperror.ErrUpstream)

	repo.err = errors.New("connection reset")
	_, _, err = svc.ResolveIdentity(context.Background(), googleIdentity("sub-1"))
	assert.ErrorIs(t, err, apperror.ErrStore)
	assert.True(t, apperror.Retryable(err))
}

func TestCompleteLogin_Routing(t *testing.T) {
	repo := newMockUserRepo()
	svc, sessions := newTestIdentity(repo)
	ctx := context.Background()

	res, err := svc.CompleteLogin(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Token)

	u, err := url.Parse(res.Redirect)
	require.NoError(t, err)
	assert.Equal(t, "/create-profile", u.Path)
	assert.Equal(t, res.User.ID.Hex(), u.Query().Get("_id"))

	sess, err := sessions.Resolve(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID.Hex(), sess.UserID)

	_, err = repo.UpdateProfile(ctx, res.User.ID, models.ProfileUpdate{
		"age": "27", "gender": "female", "occupation": "engineer", "relationshipType": "long-term",
	})
	require.NoError(t, err)

	res, err = svc.CompleteLogin(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, testDest.Default, res.Redirect)
}

func TestCompletionRedirect_PartialProfile(t *testing.T) {
	svc, _ := newTestIdentity(newMockUserRepo())
	u := models.User{ID: primitive.NewObjectID(), Age: "30", Gender: "male", Occupation: "chef"}

	assert.True(t, strings.HasPrefix(svc.CompletionRedirect(u), testDest.CompleteProfile+"?_id="))
}

func TestCurrentUser(t *testing.T) {
	repo := newMockUserRepo()
	svc, _ := newTestIdentity(repo)
	ctx := context.Background()

	res, err := svc.CompleteLogin(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)

	u, err := svc.CurrentUser(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, u.ID)

	_, err = svc.CurrentUser(ctx, "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	_, err = svc.CurrentUser(ctx, "forged")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	require.NoError(t, svc.Logout(ctx, res.Token))
	_, err = svc.CurrentUser(ctx, res.Token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.NoError(t, svc.Logout(ctx, res.Token))
	assert.NoError(t, svc.Logout(ctx, ""))
}

func TestCurrentUser_DeletedUserDropsSession(t *testing.T) {
	repo := newMockUserRepo()
	svc, sessions := newTestIdentity(repo)
	ctx := context.Background()

	res, err := svc.CompleteLogin(ctx, googleIdentity("sub-1"))
	require.NoError(t, err)
	repo.delete(res.User.ID)

	_, err = svc.CurrentUser(ctx, res.Token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)

	_, err = sessions.Resolve(ctx, res.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func seedUser(t *testing.T, repo *mockUserRepo) models.User {
	t.Helper()
	u, _, err := repo.FindOrCreateByExternalID(context.Background(), models.User{
		ExternalID: "sub-1", Name: "Asha", Email: "asha@example.com", Location: "Delhi",
	})
	require.NoError(t, err)
	return u
}

func TestUpdateProfile_Merge(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())
	ctx := context.Background()
	u := seedUser(t, repo)

	got, err := svc.UpdateProfile(ctx, u.ID.Hex(), map[string]any{"hobbies": "chess", "age": float64(27)})
	require.NoError(t, err)
	assert.Equal(t, "chess", got.Hobbies)
	assert.Equal(t, "27", got.Age)
	assert.Equal(t, "Delhi", got.Location)
	assert.Equal(t, "Asha", got.Name)

	// Empty and null values leave stored data alone.
	got, err = svc.UpdateProfile(ctx, u.ID.Hex(), map[string]any{"hobbies": "  ", "location": nil})
	require.NoError(t, err)
	assert.Equal(t, "chess", got.Hobbies)
	assert.Equal(t, "Delhi", got.Location)

	// Same patch twice, same end state.
	again, err := svc.UpdateProfile(ctx, u.ID.Hex(), map[string]any{"hobbies": "chess", "age": float64(27)})
	require.NoError(t, err)
	assert.Equal(t, got.Hobbies, again.Hobbies)
	assert.Equal(t, got.Age, again.Age)
	assert.Equal(t, u.ID, again.ID)
}

func TestUpdateProfile_Allowlist(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())
	u := seedUser(t, repo)

	got, err := svc.UpdateProfile(context.Background(), u.ID.Hex(), map[string]any{
		"isAdmin":    "true",
		"_id":        primitive.NewObjectID().Hex(),
		"externalId": "hijack",
		"occupation": "pilot",
	})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "sub-1", got.ExternalID)
	assert.Equal(t, "pilot", got.Occupation)

	raw, err := bson.Marshal(repo.byID[u.ID])
	require.NoError(t, err)
	_, err = bson.Raw(raw).LookupErr("isAdmin")
	assert.Error(t, err)
}

func TestUpdateProfile_InvalidInput(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())
	u := seedUser(t, repo)

	tests := []struct {
		name    string
		id      string
		payload map[string]any
	}{
		{name: "missing id", id: "", payload: map[string]any{"hobbies": "chess"}},
		{name: "blank id", id: "   ", payload: map[string]any{"hobbies": "chess"}},
		{name: "malformed id", id: "not-an-id", payload: map[string]any{"hobbies": "chess"}},
		{name: "structured value", id: u.ID.Hex(), payload: map[string]any{"hobbies": []any{"chess"}}},
		{name: "too long", id: u.ID.Hex(), payload: map[string]any{"hobbies": strings.Repeat("a", models.MaxFieldLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := repo.updateCalls
			_, err := svc.UpdateProfile(context.Background(), tt.id, tt.payload)
			assert.ErrorIs(t, err, apperror.ErrInvalidInput)
			assert.Equal(t, before, repo.updateCalls, "store must not be touched")
		})
	}
	assert.Equal(t, "", repo.byID[u.ID].Hobbies)
}

func TestUpdateProfile_UnknownID(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())

	_, err := svc.UpdateProfile(context.Background(), primitive.NewObjectID().Hex(), map[string]any{"hobbies": "chess"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, repo.byID)
}

func TestUpdateProfile_StoreFault(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())
	u := seedUser(t, repo)
	repo.err = errors.New("socket closed")

	_, err := svc.UpdateProfile(context.Background(), u.ID.Hex(), map[string]any{"hobbies": "chess"})
	assert.ErrorIs(t, err, apperror.ErrStore)
	assert.Equal(t, 500, apperror.ToHTTPStatus(err))
}

func TestSetProfilePicAndList(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewProfileService(repo, zap.NewNop())
	ctx := context.Background()
	u := seedUser(t, repo)

	got, err := svc.SetProfilePic(ctx, u.ID.Hex(), "https://res.cloudinary.com/demo/image/upload/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/a.jpg", got.ProfilePic)

	users, err := svc.List(ctx, map[string]string{"location": "Delhi"}, 10)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	users, err = svc.List(ctx, map[string]string{"location": "Mumbai"}, 10)
	require.NoError(t, err)
	assert.Empty(t, users)

	repo.err = errors.New("down")
	_, err = svc.List(ctx, nil, 10)
	assert.ErrorIs(t, err, apperror.ErrStore)
}
