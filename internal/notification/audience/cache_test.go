package audience

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedDirectory_ReadThrough(t *testing.T) {
	mr, client := newMiniredisClient(t)
	ward := 4
	user := &models.User{ID: "a", Role: models.RoleUser, Municipality: "Lalitpur", WardNumber: &ward}

	dir := new(MockDirectory)
	dir.On("GetUser", mock.Anything, "a").Return(user, nil).Once()

	cached := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t))

	first, err := cached.GetUser(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, user, first)
	assert.True(t, mr.Exists("civic:user:a"))
	assert.Equal(t, time.Minute, mr.TTL("civic:user:a"))

	second, err := cached.GetUser(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, user, second)

	dir.AssertExpectations(t)
}

func TestCachedDirectory_ExpiryAndInvalidate(t *testing.T) {
	mr, client := newMiniredisClient(t)
	dir := new(MockDirectory)
	dir.On("GetUser", mock.Anything, "a").Return(&models.User{ID: "a", Role: models.RoleUser}, nil).Times(3)

	cached := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	_, err := cached.GetUser(ctx, "a")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = cached.GetUser(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, cached.Invalidate(ctx, "a"))
	_, err = cached.GetUser(ctx, "a")
	require.NoError(t, err)

	dir.AssertExpectations(t)
}

func TestCachedDirectory_NotFoundIsNotCached(t *testing.T) {
	mr, client := newMiniredisClient(t)
	dir := new(MockDirectory)
	dir.On("GetUser", mock.Anything, "ghost").Return(nil, apperrors.NewNotFoundError("user", "ghost"))

	cached := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t))
	_, err := cached.GetUser(context.Background(), "ghost")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	assert.False(t, mr.Exists("civic:user:ghost"))
}

func TestCachedDirectory_CorruptEntryFallsBack(t *testing.T) {
	mr, client := newMiniredisClient(t)
	require.NoError(t, mr.Set("civic:user:a", "{not json"))

	dir := new(MockDirectory)
	dir.On("GetUser", mock.Anything, "a").Return(&models.User{ID: "a", Role: models.RoleAdmin}, nil)

	u, err := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t)).GetUser(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)

	raw, err := mr.Get("civic:user:a")
	require.NoError(t, err)
	var stored models.User
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "a", stored.ID)
}

func TestCachedDirectory_RedisDownStillServes(t *testing.T) {
	client, redisMock := redismock.NewClientMock()
	user := &models.User{ID: "a", Role: models.RoleUser}
	data, _ := json.Marshal(user)

	redisMock.ExpectGet("civic:user:a").SetErr(errors.New("connection refused"))
	redisMock.ExpectSet("civic:user:a", data, time.Minute).SetErr(errors.New("connection refused"))

	dir := new(MockDirectory)
	dir.On("GetUser", mock.Anything, "a").Return(user, nil)

	got, err := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t)).GetUser(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestCachedDirectory_ListByRolePassesThrough(t *testing.T) {
	_, client := newMiniredisClient(t)
	dir := new(MockDirectory)
	dir.On("ListByRole", mock.Anything, models.RoleMunicipality, "Lalitpur").
		Return([]models.User{admin("b", "Lalitpur")}, nil)

	users, err := NewCachedDirectory(dir, client, time.Minute, logger.NewTestLogger(t)).
		ListByRole(context.Background(), models.RoleMunicipality, "Lalitpur")
	require.NoError(t, err)
	assert.Len(t, users, 1)
	dir.AssertExpectations(t)
}
