package rule

import (
	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/condition"
)

// Template is a predefined rule for a common use case.
type Template struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Spec        Spec   `json:"rule"`
}

// Templates returns the built-in rule templates.
func Templates() []Template {
	simple := func(field, op string, value any) *condition.Spec {
		return &condition.Spec{Type: condition.KindSimple, Field: field, Operator: op, Value: value}
	}
	act := func(t action.Type, params action.Params) []action.Spec {
		return []action.Spec{{Type: t, Params: params}}
	}
	return []Template{
		{
			ID:          "auto-tag-pdf",
			Name:        "Auto-tag PDF Documents",
			Description: "Automatically add 'pdf' tag to all PDF documents",
			Spec: Spec{
				Name:      "Auto-tag PDF Documents",
				Trigger:   TriggerDocumentCreated,
				Condition: simple("mimeType", "equals", "application/pdf"),
				Actions:   act(action.TypeAddTag, action.Params{action.ParamTagName: "pdf"}),
			},
		},
		{
			ID:          "auto-categorize-invoice",
			Name:        "Auto-categorize Invoices",
			Description: "Automatically categorize documents with 'invoice' in name as Finance",
			Spec: Spec{
				Name:      "Auto-categorize Invoices",
				Trigger:   TriggerDocumentCreated,
				Condition: simple("name", "contains", "invoice"),
				Actions:   act(action.TypeSetCategory, action.Params{action.ParamCategoryName: "Finance"}),
			},
		},
		{
			ID:          "large-file-notification",
			Name:        "Large File Notification",
			Description: "Send notification when files larger than 100MB are uploaded",
			Spec: Spec{
				Name:      "Large File Notification",
				Trigger:   TriggerDocumentCreated,
				Condition: simple("size", "gt", 104857600),
				Actions: act(action.TypeSendNotification, action.Params{
					action.ParamRecipient: "admin",
					action.ParamMessage:   "Large file uploaded: {documentName}",
				}),
			},
		},
		{
			ID:          "archive-old-docs",
			Name:        "Archive Old Documents",
			Description: "Set status to ARCHIVED for documents moved to Archive folder",
			Spec: Spec{
				Name:      "Archive Old Documents",
				Trigger:   TriggerDocumentMoved,
				Condition: simple("path", "startsWith", "/Archive"),
				Actions:   act(action.TypeSetStatus, action.Params{action.ParamStatus: "ARCHIVED"}),
			},
		},
	}
}
