package models

import (
	"encoding/json"
	"testing"

	apperrors "civic-notify/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationType_Accepts(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		kind EntityKind
		want bool
	}{
		{TypeNewReport, KindReport, true},
		{TypeNewReport, KindSuggestion, false},
		{TypeNewSuggestion, KindSuggestion, true},
		{TypeNewComment, KindComment, true},
		{TypeNewComment, KindReport, false},
		{TypeNewUpvote, KindReport, true},
		{TypeNewUpvote, KindSuggestion, true},
		{TypeNewUpvote, KindComment, false},
		{TypeReportStatusChanged, KindReport, true},
		{TypeSuggestionStatusChanged, KindReport, false},
		{TypeCommentDeleted, KindSuggestion, true},
		{TypeCommentDeleted, KindComment, false},
		{NotificationType("BOGUS"), KindReport, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.Accepts(tt.kind))
		})
	}
}

func TestNewRelatedEntity(t *testing.T) {
	ref, err := NewRelatedEntity(TypeNewSuggestion, KindSuggestion, "s-1")
	require.NoError(t, err)
	assert.Equal(t, RelatedEntity{Kind: KindSuggestion, ID: "s-1"}, ref)

	for _, tc := range []struct {
		name string
		typ  NotificationType
		kind EntityKind
		id   string
	}{
		{"unknown type", "NOPE", KindReport, "r-1"},
		{"missing id", TypeNewReport, KindReport, ""},
		{"kind mismatch", TypeNewReport, KindComment, "c-1"},
		{"unknown kind", TypeNewUpvote, "photo", "p-1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRelatedEntity(tc.typ, tc.kind, tc.id)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
		})
	}

	_, err = NewRelatedEntity(TypeNewUpvote, "photo", "p-1")
	assert.Contains(t, err.Error(), `unknown entity kind "photo"`)
}

func TestNotification_RelatedRoundTrip(t *testing.T) {
	n := &Notification{ID: "n-1", Type: TypeNewComment}
	assert.True(t, n.Related().IsZero())

	n.SetRelated(RelatedEntity{Kind: KindComment, ID: "c-9"})
	require.NotNil(t, n.CommentID)
	assert.Nil(t, n.ReportID)
	assert.Nil(t, n.SuggestionID)
	assert.Equal(t, RelatedEntity{Kind: KindComment, ID: "c-9"}, n.Related())

	n.SetRelated(RelatedEntity{Kind: KindReport, ID: "r-2"})
	assert.Nil(t, n.CommentID)
	assert.Equal(t, "r-2", *n.ReportID)

	raw, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"reportId":"r-2"`)
	assert.NotContains(t, string(raw), "commentId")
}

func TestAllNotificationTypes(t *testing.T) {
	types := AllNotificationTypes()
	assert.Len(t, types, 7)
	for _, typ := range types {
		assert.True(t, typ.Valid())
	}
}
