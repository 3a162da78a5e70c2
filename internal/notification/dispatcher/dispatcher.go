// Package dispatcher turns domain events into persisted notifications and
// live pushes.
package dispatcher

import (
	"context"
	"sync"
	"time"

	apperrors "civic-notify/internal/common/errors"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/common/metrics"
	"civic-notify/internal/common/observability"
	"civic-notify/internal/models"
	"civic-notify/internal/notification/audience"
	"civic-notify/internal/notification/catalog"
	"civic-notify/internal/notification/presence"
	"civic-notify/internal/notification/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Publisher pushes live events. *presence.Registry implements it.
type Publisher interface {
	PushToUser(userID, event string, payload interface{}) int
	PushToGroup(group, event string, payload interface{}) int
}

// Config bounds per-event parallelism of Dispatch.
type Config struct {
	MaxParallel int
}

// Dispatcher runs the validate, resolve, persist, push protocol.
type Dispatcher struct {
	config    Config
	store     store.Store
	resolver  *audience.Resolver
	publisher Publisher
	catalog   catalog.Catalog
	obs       *observability.Observability
	logger    logger.Logger
}

// New builds a Dispatcher. cat may be nil, in which case events must carry
// their own titles.
func New(cfg Config, st store.Store, resolver *audience.Resolver, pub Publisher, cat catalog.Catalog, obs *observability.Observability, log logger.Logger) *Dispatcher {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Dispatcher{
		config:    cfg,
		store:     st,
		resolver:  resolver,
		publisher: pub,
		catalog:   cat,
		obs:       obs,
		logger:    log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Plan is a validated, resolved event ready for delivery.
type Plan struct {
	Event      Event
	Type       models.NotificationType
	Related    models.RelatedEntity
	Content    string
	Recipients []string
	hints      []hint
}

type hint struct {
	group   string
	event   string
	payload interface{}
}

// Result summarizes one synchronous dispatch.
type Result struct {
	Recipients []string
	Created    []*models.Notification
	Failed     []string
}

// Dispatch runs the whole protocol for ev. Only validation and audience
// resolution errors are returned; per-recipient failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*Result, error) {
	if ev == nil {
		return nil, apperrors.NewValidationError("event is required")
	}
	start := time.Now()
	ctx, span := d.obs.StartSpan(ctx, "notification.dispatch", attribute.String("event.kind", string(ev.Kind())))
	defer span.End()

	plan, err := d.Prepare(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.obs.RecordEventDispatched(ctx, string(ev.Kind()), "rejected")
		return nil, err
	}

	result := &Result{Recipients: plan.Recipients}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.config.MaxParallel)

	for _, recipient := range plan.Recipients {
		wg.Add(1)
		sem <- struct{}{}
		go func(recipient string) {
			defer wg.Done()
			defer func() { <-sem }()

			n := d.Deliver(ctx, plan, recipient)

			mu.Lock()
			defer mu.Unlock()
			if n == nil {
				result.Failed = append(result.Failed, recipient)
				return
			}
			result.Created = append(result.Created, n)
		}(recipient)
	}
	wg.Wait()

	d.Broadcast(plan)

	span.SetAttributes(
		attribute.Int("recipients", len(plan.Recipients)),
		attribute.Int("failed", len(result.Failed)),
	)
	d.recordDuration(ctx, ev.Kind(), start)
	d.obs.RecordEventDispatched(ctx, string(ev.Kind()), "ok")
	return result, nil
}

// Prepare validates ev, checks its entities against the catalog (filling a
// missing title from it) and resolves the audience. Nothing is persisted.
func (d *Dispatcher) Prepare(ctx context.Context, ev Event) (*Plan, error) {
	if ev == nil {
		return nil, apperrors.NewValidationError("event is required")
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	var (
		plan = &Plan{Event: ev}
		data = map[string]interface{}{}
		err  error
	)

	switch e := ev.(type) {
	case ReportCreated:
		title, err := d.title(ctx, e.Title, models.KindReport, e.ReportID)
		if err != nil {
			return nil, err
		}
		plan.Type = models.TypeNewReport
		plan.Related = models.RelatedEntity{Kind: models.KindReport, ID: e.ReportID}
		if plan.Recipients, err = d.resolver.ResolveMunicipality(ctx, e.Municipality, e.ActorID); err != nil {
			return nil, err
		}
		data["title"], data["municipality"], data["wardSuffix"] = title, e.Municipality, wardSuffix(e.WardNumber)
		plan.hints = scopeHints(presence.EventNewReport, presence.EntityHint{
			ID: e.ReportID, Title: title, Municipality: e.Municipality, WardNumber: e.WardNumber,
		})

	case SuggestionCreated:
		title, err := d.title(ctx, e.Title, models.KindSuggestion, e.SuggestionID)
		if err != nil {
			return nil, err
		}
		plan.Type = models.TypeNewSuggestion
		plan.Related = models.RelatedEntity{Kind: models.KindSuggestion, ID: e.SuggestionID}
		if plan.Recipients, err = d.resolver.ResolveMunicipality(ctx, e.Municipality, e.ActorID); err != nil {
			return nil, err
		}
		data["title"], data["municipality"], data["wardSuffix"] = title, e.Municipality, wardSuffix(e.WardNumber)
		plan.hints = scopeHints(presence.EventNewSuggestion, presence.EntityHint{
			ID: e.SuggestionID, Title: title, Municipality: e.Municipality, WardNumber: e.WardNumber,
		})

	case CommentAdded:
		title, err := d.title(ctx, e.ParentTitle, e.ParentKind, e.ParentID)
		if err != nil {
			return nil, err
		}
		if _, err := d.requireEntity(ctx, models.KindComment, e.CommentID); err != nil {
			return nil, err
		}
		plan.Type = models.TypeNewComment
		plan.Related = models.RelatedEntity{Kind: models.KindComment, ID: e.CommentID}
		plan.Recipients = d.resolver.ResolveDirect(e.ParentOwnerID, e.ActorID)
		data["title"], data["entityKind"], data["actorName"] = title, string(e.ParentKind), actorName(e.ActorName)

	case CommentDeleted:
		title, err := d.title(ctx, e.ParentTitle, e.ParentKind, e.ParentID)
		if err != nil {
			return nil, err
		}
		plan.Type = models.TypeCommentDeleted
		plan.Related = models.RelatedEntity{Kind: e.ParentKind, ID: e.ParentID}
		plan.Recipients = d.resolver.ResolveDirect(e.AuthorID, e.ActorID)
		data["title"], data["entityKind"] = title, string(e.ParentKind)

	case UpvoteAdded:
		title, err := d.title(ctx, e.Title, e.EntityKind, e.EntityID)
		if err != nil {
			return nil, err
		}
		plan.Type = models.TypeNewUpvote
		plan.Related = models.RelatedEntity{Kind: e.EntityKind, ID: e.EntityID}
		plan.Recipients = d.resolver.ResolveDirect(e.OwnerID, e.ActorID)
		data["title"], data["entityKind"], data["actorName"] = title, string(e.EntityKind), actorName(e.ActorName)

	case StatusChanged:
		title, err := d.title(ctx, e.Title, e.EntityKind, e.EntityID)
		if err != nil {
			return nil, err
		}
		plan.Type = models.TypeReportStatusChanged
		if e.EntityKind == models.KindSuggestion {
			plan.Type = models.TypeSuggestionStatusChanged
		}
		plan.Related = models.RelatedEntity{Kind: e.EntityKind, ID: e.EntityID}
		plan.Recipients = d.resolver.ResolveDirect(e.OwnerID, e.ActorID)
		data["title"], data["status"] = title, e.NewStatus
		plan.hints = []hint{{
			group:   presence.UserGroup(e.OwnerID),
			event:   presence.StatusChangedEvent(e.EntityKind),
			payload: presence.StatusHint{ID: e.EntityID, Status: e.NewStatus},
		}}

	default:
		return nil, apperrors.NewValidationErrorf("unsupported event %T", ev)
	}

	if _, err = models.NewRelatedEntity(plan.Type, plan.Related.Kind, plan.Related.ID); err != nil {
		return nil, err
	}
	plan.Content = render(plan.Type, data)
	return plan, nil
}

// Deliver persists one recipient's notification and pushes it live. It
// returns nil when persistence failed; the failure is logged.
func (d *Dispatcher) Deliver(ctx context.Context, plan *Plan, recipient string) *models.Notification {
	log := d.logger.WithFields(map[string]interface{}{
		"eventKind":   string(plan.Event.Kind()),
		"recipientId": recipient,
		"type":        string(plan.Type),
	})

	n, err := d.store.Create(ctx, recipient, plan.Type, plan.Content, plan.Related)
	if err != nil {
		metrics.NotificationPersistFailures.WithLabelValues(string(plan.Type)).Inc()
		d.obs.RecordDeliveryFailed(ctx, string(plan.Type))
		log.WithError(err).Error("failed to persist notification", nil)
		return nil
	}
	metrics.NotificationsCreated.WithLabelValues(string(plan.Type)).Inc()

	d.publisher.PushToUser(recipient, presence.EventNewNotification, n)
	d.PushUnreadCount(ctx, recipient)

	log.Debug("notification delivered", map[string]interface{}{"notificationId": n.ID})
	return n
}

// PushUnreadCount recomputes the user's unread count and pushes it to all of
// their connections.
func (d *Dispatcher) PushUnreadCount(ctx context.Context, userID string) {
	count, err := d.store.CountUnread(ctx, userID)
	if err != nil {
		d.logger.Warn("failed to count unread notifications", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return
	}
	d.publisher.PushToUser(userID, presence.EventUnreadCount, count)
}

// Broadcast sends the plan's group liveness hints.
func (d *Dispatcher) Broadcast(plan *Plan) {
	for _, h := range plan.hints {
		d.publisher.PushToGroup(h.group, h.event, h.payload)
	}
}

// title checks the entity against the catalog and picks the text to render:
// the caller's title when given, otherwise the catalog's. Without a catalog
// the caller must supply the title.
func (d *Dispatcher) title(ctx context.Context, given string, kind models.EntityKind, id string) (string, error) {
	if d.catalog == nil {
		if given == "" {
			return "", apperrors.NewValidationErrorf("title is required for %s %s", kind, id)
		}
		return given, nil
	}
	title, err := d.requireEntity(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if given != "" {
		return given, nil
	}
	return title, nil
}

// requireEntity fails with a ValidationError when the catalog has no such
// entity. It is a no-op without a catalog.
func (d *Dispatcher) requireEntity(ctx context.Context, kind models.EntityKind, id string) (string, error) {
	if d.catalog == nil {
		return "", nil
	}
	title, found, err := d.catalog.Lookup(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperrors.NewValidationErrorf("%s %s does not exist", kind, id)
	}
	return title, nil
}

func (d *Dispatcher) recordDuration(ctx context.Context, kind Kind, start time.Time) {
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	d.obs.RecordEventDuration(ctx, string(kind), elapsed)
}

// scopeHints addresses the municipality group and, when a ward is known, the
// ward group.
func scopeHints(event string, h presence.EntityHint) []hint {
	hints := []hint{{group: presence.MunicipalityGroup(h.Municipality), event: event, payload: h}}
	if h.WardNumber != nil {
		hints = append(hints, hint{group: presence.WardGroup(h.Municipality, *h.WardNumber), event: event, payload: h})
	}
	return hints
}
