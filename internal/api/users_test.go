package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civic-notify/internal/common/logger"
	"civic-notify/internal/models"
	"civic-notify/internal/notification/audience"
	"civic-notify/internal/notification/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_InvalidateUserCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	log := logger.NewTestLogger(t)
	dir := audience.NewMemoryDirectory(models.User{ID: "admin-1", Role: models.RoleMunicipality, Municipality: "Kathmandu"})
	cached := audience.NewCachedDirectory(dir, client, time.Hour, log)
	ctx := context.Background()

	s := NewServer(Deps{
		ServiceName:   "civic-notify",
		Store:         store.NewMemory(),
		Events:        &fakeSubmitter{},
		UserCache:     cached,
		InternalToken: testInternalToken,
		Logger:        log,
	})

	u, err := cached.GetUser(ctx, "admin-1")
	require.NoError(t, err)
	require.Equal(t, "Kathmandu", u.Municipality)

	// moved to another municipality; the cache still has the old profile
	dir.Put(models.User{ID: "admin-1", Role: models.RoleMunicipality, Municipality: "Lalitpur"})
	u, err = cached.GetUser(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Kathmandu", u.Municipality)

	invalidate := func(token string) int {
		req := httptest.NewRequest(http.MethodDelete, "/internal/users/admin-1/cache", nil)
		if token != "" {
			req.Header.Set(headerInternalToken, token)
		}
		resp, err := s.App().Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, "admin-1", body["userId"])
			assert.Equal(t, true, body["invalidated"])
		}
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, invalidate(""))
	u, err = cached.GetUser(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Kathmandu", u.Municipality, "unauthorized call leaves the cache alone")

	assert.Equal(t, http.StatusOK, invalidate(testInternalToken))
	u, err = cached.GetUser(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "Lalitpur", u.Municipality)
}

func TestServer_UserCacheRouteNeedsCache(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/internal/users/admin-1/cache", nil)
	req.Header.Set(headerInternalToken, testInternalToken)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
