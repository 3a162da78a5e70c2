package api

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"civic-notify/internal/common/auth"
	apperrors "civic-notify/internal/common/errors"
	httpclient "civic-notify/internal/common/http"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/common/observability"
	"civic-notify/internal/models"
	"civic-notify/internal/notification/audience"
	"civic-notify/internal/notification/catalog"
	"civic-notify/internal/notification/dispatcher"
	"civic-notify/internal/notification/gateway"
	"civic-notify/internal/notification/presence"
	"civic-notify/internal/notification/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fiberTransport routes client requests straight into the fiber app.
type fiberTransport struct{ app *fiber.App }

func (t fiberTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.app.Test(r, -1)
}

type recordingConn struct {
	id     string
	mu     sync.Mutex
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, _ interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return true
}

func (c *recordingConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

type stack struct {
	store    *store.Memory
	registry *presence.Registry
	gateway  *gateway.Gateway
	pipeline  *dispatcher.Pipeline
	transport http.RoundTripper
	client    *httpclient.Client
}

func newStack(t *testing.T, users ...models.User) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)
	st := store.NewMemory()
	dir := audience.NewMemoryDirectory(users...)
	reg := presence.New(log)
	verifier := auth.NewVerifier(testSecret, "")

	entities := catalog.NewMemory()
	entities.Put(models.KindReport, "r-1", "Broken water pipe")

	d := dispatcher.New(dispatcher.Config{MaxParallel: 4}, st, audience.NewResolver(dir), reg, entities, observability.Noop("test"), log)
	p := dispatcher.NewPipeline(d, dispatcher.PipelineConfig{Shards: 4, QueueSize: 32})
	gw := gateway.New(verifier, dir, st, reg, log)

	srv := NewServer(Deps{
		ServiceName:   "civic-notify",
		Store:         st,
		Catalog:       entities,
		Events:        p,
		Gateway:       gw,
		Verifier:      verifier,
		InternalToken: testInternalToken,
		Logger:        log,
	})

	transport := fiberTransport{srv.App()}
	return &stack{
		store:     st,
		registry:  reg,
		gateway:   gw,
		pipeline:  p,
		transport: transport,
		client:    httpclient.NewClient("http://civic-notify.local", testInternalToken, 5*time.Second).WithTransport(transport),
	}
}

func (s *stack) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.pipeline.Close(ctx))
}

func (s *stack) connect(t *testing.T, connID, userID string) *recordingConn {
	t.Helper()
	conn := &recordingConn{id: connID}
	_, err := s.gateway.Open(context.Background(), conn, userID)
	require.NoError(t, err)
	return conn
}

func TestScenario_LalitpurAndKathmandu(t *testing.T) {
	s := newStack(t,
		models.User{ID: "ltp-admin", Role: models.RoleMunicipality, Municipality: "Lalitpur", WardNumber: intPtr(3)},
		models.User{ID: "ktm-admin", Role: models.RoleMunicipality, Municipality: "Kathmandu"},
		models.User{ID: "citizen", Role: models.RoleUser, Municipality: "Lalitpur", WardNumber: intPtr(3)},
	)
	ctx := context.Background()

	ltp := s.connect(t, "ltp-conn", "ltp-admin")
	ktm := s.connect(t, "ktm-conn", "ktm-admin")
	citizen := s.connect(t, "citizen-conn", "citizen")

	require.NoError(t, s.client.PostEvent(ctx, dispatcher.ReportCreated{
		ReportID: "r-1", Title: "Broken water pipe", Municipality: "Lalitpur",
		WardNumber: intPtr(3), ActorID: "citizen", ActorName: "Hari",
	}))
	require.NoError(t, s.client.PostEvent(ctx, dispatcher.StatusChanged{
		EntityKind: models.KindReport, EntityID: "r-1", NewStatus: "IN_PROGRESS",
		OwnerID: "citizen", Title: "Broken water pipe", ActorID: "ltp-admin",
	}))
	s.drain(t)

	ltpItems, _, err := s.store.List(ctx, "ltp-admin", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, ltpItems, 1)
	assert.Equal(t, models.TypeNewReport, ltpItems[0].Type)
	assert.Equal(t, `New report in Lalitpur (ward 3): "Broken water pipe"`, ltpItems[0].Content)

	ktmItems, _, err := s.store.List(ctx, "ktm-admin", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, ktmItems)

	citizenItems, _, err := s.store.List(ctx, "citizen", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, citizenItems, 1)
	assert.Equal(t, models.TypeReportStatusChanged, citizenItems[0].Type)

	assert.Equal(t, 1, ltp.count(presence.EventNewNotification))
	assert.Equal(t, 2, ltp.count(presence.EventNewReport), "municipality and ward groups")
	assert.Zero(t, ktm.count(presence.EventNewNotification))
	assert.Zero(t, ktm.count(presence.EventNewReport))

	assert.Equal(t, 1, citizen.count(presence.EventNewNotification))
	assert.Equal(t, 1, citizen.count("report_status_changed"))
	assert.Equal(t, 2, citizen.count(presence.EventNewReport), "own report hint still arrives")

	// initial count on connect plus one per delivery
	assert.Equal(t, 2, ltp.count(presence.EventUnreadCount))
}

func TestScenario_ClientErrors(t *testing.T) {
	s := newStack(t)
	defer s.drain(t)
	ctx := context.Background()

	err := s.client.PostEvent(ctx, dispatcher.UpvoteAdded{EntityKind: models.KindReport, EntityID: "r-1", ActorID: "a"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation), "got %v", err)

	err = s.client.PostRaw(ctx, "photo_uploaded", []byte(`{}`))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound), "got %v", err)

	wrongToken := httpclient.NewClient("http://civic-notify.local/", "wrong", time.Second).
		WithTransport(s.transport)
	err = wrongToken.PostEvent(ctx, dispatcher.StatusChanged{
		EntityKind: models.KindReport, EntityID: "r-1", NewStatus: "CLOSED", OwnerID: "citizen",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthentication), "got %v", err)
}

func TestScenario_ClientAfterShutdown(t *testing.T) {
	s := newStack(t)
	s.drain(t)

	err := s.client.PostEvent(context.Background(), dispatcher.StatusChanged{
		EntityKind: models.KindReport, EntityID: "r-1", NewStatus: "CLOSED", OwnerID: "citizen",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDependencyFailure), "got %v", err)
}
