package document

import (
	"fmt"
	"strconv"
	"strings"
)

// FromFields builds a document from a loosely typed field map such as the
// test payload of the admin API. Keys use the condition field names; keys
// that are not built-in fields land in Metadata.
func FromFields(fields map[string]any) (*Document, error) {
	d := &Document{}
	for k, v := range fields {
		if v == nil {
			continue
		}
		switch k {
		case "id":
			d.ID = fmt.Sprint(v)
		case FieldName:
			d.Name = fmt.Sprint(v)
		case FieldDescription:
			d.Description = fmt.Sprint(v)
		case FieldMimeType:
			d.MimeType = fmt.Sprint(v)
		case FieldSize:
			n, err := toInt64(v)
			if err != nil {
				return nil, fmt.Errorf("size: %w", err)
			}
			d.Size = n
		case FieldContent, FieldTextContent:
			d.TextContent = fmt.Sprint(v)
		case FieldCreatedBy:
			d.CreatedBy = fmt.Sprint(v)
		case FieldPath:
			d.Path = fmt.Sprint(v)
		case FieldParentID:
			d.ParentID = fmt.Sprint(v)
		case FieldTags:
			d.Tags = toStrings(v)
		case FieldCategories:
			d.Categories = toStrings(v)
		case "status":
			st, ok := ParseStatus(fmt.Sprint(v))
			if !ok {
				return nil, fmt.Errorf("status: unknown value %v", v)
			}
			d.Status = st
		case "metadata":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("metadata: expected an object, got %T", v)
			}
			for mk, mv := range m {
				d.setMetadata(mk, mv)
			}
		default:
			d.setMetadata(strings.TrimPrefix(k, metadataPrefix), v)
		}
	}
	return d, nil
}

func (d *Document) setMetadata(k string, v any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[k] = v
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toStrings(v any) []string {
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...)
	case []any:
		out := make([]string, 0, len(l))
		for _, it := range l {
			out = append(out, fmt.Sprint(it))
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(l, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []string{fmt.Sprint(v)}
}
