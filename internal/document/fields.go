package document

import "strings"

// Built-in field names understood by Resolve.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldMimeType    = "mimeType"
	FieldSize        = "size"
	FieldContent     = "content"
	FieldTextContent = "textContent"
	FieldCreatedBy   = "createdBy"
	FieldPath        = "path"
	FieldParentID    = "parentId"
	FieldTags        = "tags"
	FieldCategories  = "categories"
	FieldExtension   = "extension"

	metadataPrefix = "metadata."
)

// Resolve returns the value of a named field. Unknown names fall back to a
// metadata lookup, as does the explicit "metadata.<key>" form. The boolean
// is false when the field has no value (the condition layer treats that as null).
func (d *Document) Resolve(field string) (any, bool) {
	if d == nil || field == "" {
		return nil, false
	}
	if strings.HasPrefix(field, metadataPrefix) {
		return d.metadata(strings.TrimPrefix(field, metadataPrefix))
	}
	switch field {
	case FieldName:
		return d.Name, true
	case FieldDescription:
		return optional(d.Description)
	case FieldMimeType:
		return optional(d.MimeType)
	case FieldSize:
		return d.Size, true
	case FieldContent, FieldTextContent:
		return optional(d.TextContent)
	case FieldCreatedBy:
		return optional(d.CreatedBy)
	case FieldPath:
		return optional(d.Path)
	case FieldParentID:
		return optional(d.ParentID)
	case FieldTags:
		return append([]string{}, d.Tags...), true
	case FieldCategories:
		return append([]string{}, d.Categories...), true
	case FieldExtension:
		return d.Extension(), true
	}
	return d.metadata(field)
}

func (d *Document) metadata(key string) (any, bool) {
	if d.Metadata == nil {
		return nil, false
	}
	v, ok := d.Metadata[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// optional maps the zero string to "no value" so isNull behaves like the
// nullable columns documents are loaded from.
func optional(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}
