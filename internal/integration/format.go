package integration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zachbroad/webhook-dispatch/internal/model"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	maxFields     = 10
	maxFieldValue = 200
	// maxDumpLength bounds the generic data dump used for unknown categories.
	maxDumpLength = 800
)

// categoryFields lists, per event category, the data keys worth surfacing
// and the label to show for each, in display order.
var categoryFields = map[string][]Field{
	"document": {
		{"documentId", "Document ID"},
		{"documentName", "Document"},
		{"fileName", "File"},
		{"status", "Status"},
		{"error", "Error"},
		{"pageCount", "Pages"},
		{"processingTimeMs", "Processing Time (ms)"},
		{"uploadedBy", "Uploaded By"},
	},
	"chat": {
		{"sessionId", "Session ID"},
		{"conversationId", "Conversation ID"},
		{"userId", "User"},
		{"messageCount", "Messages"},
		{"model", "Model"},
		{"tokensUsed", "Tokens"},
		{"cost", "Cost"},
		{"reason", "Reason"},
	},
	"analytics": {
		{"metric", "Metric"},
		{"value", "Value"},
		{"threshold", "Threshold"},
		{"period", "Period"},
		{"budget", "Budget"},
		{"cost", "Cost"},
	},
	"compliance": {
		{"ruleId", "Rule"},
		{"policy", "Policy"},
		{"regulation", "Regulation"},
		{"documentId", "Document ID"},
		{"violation", "Violation"},
		{"riskLevel", "Risk Level"},
	},
	"system": {
		{"component", "Component"},
		{"service", "Service"},
		{"status", "Status"},
		{"error", "Error"},
		{"uptime", "Uptime"},
		{"version", "Version"},
	},
}

var categoryIcons = map[string]string{
	"document":   "📄",
	"chat":       "💬",
	"analytics":  "📊",
	"compliance": "⚖️",
	"system":     "⚙️",
}

var severityColors = map[string]string{
	SeverityLow:      "#2EB67D",
	SeverityMedium:   "#ECB22E",
	SeverityHigh:     "#E01E5A",
	SeverityCritical: "#8B0000",
}

// Field is a label/value pair shown by chat, email and SMS renderers. In
// categoryFields the Name holds the data key and Value the display label.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Summary is the integration-neutral rendering of an event.
type Summary struct {
	Title    string
	Category string
	Icon     string
	Severity string
	Color    string
	Fields   []Field
	Details  string
}

// Summarize picks the most relevant fields for the event's category. Unknown
// categories, or known ones carrying none of the expected keys, fall back to
// a bounded dump of the data.
func Summarize(e model.Event) Summary {
	category := e.Category()
	severity := Severity(e)
	s := Summary{
		Title:    Humanize(e.Type),
		Category: category,
		Icon:     icon(category),
		Severity: severity,
		Color:    severityColors[severity],
	}

	for _, f := range categoryFields[category] {
		v, ok := e.Data[f.Name]
		if !ok || v == nil {
			continue
		}
		s.Fields = append(s.Fields, Field{Name: f.Value, Value: truncate(formatValue(v), maxFieldValue)})
		if len(s.Fields) == maxFields {
			break
		}
	}

	for _, key := range []string{"message", "description", "details"} {
		if msg, ok := e.Data[key].(string); ok && msg != "" {
			s.Details = truncate(msg, maxDumpLength)
			break
		}
	}
	if len(s.Fields) == 0 && s.Details == "" {
		s.Details = dumpData(e.Data)
	}
	return s
}

// Severity derives a severity level from the event. An explicit data.severity
// wins; otherwise the type name decides.
func Severity(e model.Event) string {
	if sev, ok := e.Data["severity"].(string); ok {
		switch sev = strings.ToLower(sev); sev {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
			return sev
		}
	}
	t := strings.ToLower(e.Type)
	switch {
	case strings.Contains(t, "violation"), strings.Contains(t, "breach"):
		return SeverityCritical
	case strings.Contains(t, "failed"), strings.Contains(t, "error"):
		return SeverityHigh
	case strings.Contains(t, "alert"), strings.Contains(t, "warning"),
		strings.Contains(t, "exceeded"), strings.Contains(t, "threshold"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Humanize turns "document.processing_step.failed" into
// "Document Processing Step Failed".
func Humanize(eventType string) string {
	words := strings.FieldsFunc(eventType, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func icon(category string) string {
	if i, ok := categoryIcons[category]; ok {
		return i
	}
	return "🔔"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int, int64, int32:
		return fmt.Sprintf("%d", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func dumpData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return truncate(string(b), maxDumpLength)
}

// truncate limits s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
