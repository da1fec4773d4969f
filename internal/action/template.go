package action

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

// ExpandName substitutes the rename tokens {name} {date} {datetime} {id} {ext}.
func ExpandName(pattern string, doc *document.Document, now time.Time) string {
	id := doc.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.NewReplacer(
		"{name}", doc.Name,
		"{date}", now.Format("2006-01-02"),
		"{datetime}", strings.ReplaceAll(now.Format("2006-01-02T15:04:05"), ":", "-"),
		"{id}", id,
		"{ext}", doc.Extension(),
	).Replace(pattern)
}

// ExpandMessage substitutes {documentName} and {documentId}.
func ExpandMessage(msg string, doc *document.Document) string {
	return strings.NewReplacer(
		"{documentName}", doc.Name,
		"{documentId}", doc.ID,
	).Replace(msg)
}

// WebhookBody renders a webhook body template. An empty template yields the
// default document_processed event.
func WebhookBody(tmpl string, doc *document.Document, baseURL string) string {
	if tmpl == "" {
		b, _ := json.Marshal(map[string]string{
			"event": "document_processed",
			"id":    doc.ID,
			"name":  doc.Name,
		})
		return string(b)
	}
	return strings.NewReplacer(
		"{documentId}", doc.ID,
		"{documentName}", doc.Name,
		"{mimeType}", doc.MimeType,
		"{size}", strconv.FormatInt(doc.Size, 10),
		"{downloadUrl}", strings.TrimRight(baseURL, "/")+"/api/v1/documents/"+doc.ID+"/download",
	).Replace(tmpl)
}
