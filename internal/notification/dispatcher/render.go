package dispatcher

import (
	"fmt"
	"strings"

	"civic-notify/internal/models"
)

var templates = map[models.NotificationType]string{
	models.TypeNewReport:               `New report in {{municipality}}{{wardSuffix}}: "{{title}}"`,
	models.TypeNewSuggestion:           `New suggestion in {{municipality}}{{wardSuffix}}: "{{title}}"`,
	models.TypeNewComment:              `{{actorName}} commented on your {{entityKind}} "{{title}}"`,
	models.TypeNewUpvote:               `{{actorName}} upvoted your {{entityKind}} "{{title}}"`,
	models.TypeReportStatusChanged:     `Your report "{{title}}" is now {{status}}`,
	models.TypeSuggestionStatusChanged: `Your suggestion "{{title}}" is now {{status}}`,
	models.TypeCommentDeleted:          `Your comment on the {{entityKind}} "{{title}}" was removed`,
}

// render fills a type's template. Unknown placeholders are dropped.
func render(typ models.NotificationType, data map[string]interface{}) string {
	tmpl, ok := templates[typ]
	if !ok {
		return ""
	}
	return renderTemplate(tmpl, data)
}

func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		switch tv := v.(type) {
		case string:
			value = tv
		case int:
			value = fmt.Sprintf("%d", tv)
		case nil:
		default:
			value = fmt.Sprintf("%v", tv)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// {{missing}} -> ""
	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return strings.TrimSpace(result)
}

func actorName(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

func wardSuffix(ward *int) string {
	if ward == nil {
		return ""
	}
	return fmt.Sprintf(" (ward %d)", *ward)
}
