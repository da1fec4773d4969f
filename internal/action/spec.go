package action

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingParam marks an action whose required parameter is absent.
var ErrMissingParam = errors.New("missing required parameter")

// Parameter keys of the wire form.
const (
	ParamTagName          = "tagName"
	ParamCategoryName     = "categoryName"
	ParamFolderID         = "folderId"
	ParamNewName          = "newName"
	ParamPattern          = "pattern"
	ParamKey              = "key"
	ParamValue            = "value"
	ParamStatus           = "status"
	ParamRecipient        = "recipient"
	ParamMessage          = "message"
	ParamNotificationType = "type"
	ParamURL              = "url"
	ParamMethod           = "method"
	ParamHeaders          = "headers"
	ParamBody             = "body"
	ParamWorkflowKey      = "workflowKey"
	ParamVariables        = "variables"
)

// Params is the loosely typed parameter bag of the wire form.
type Params map[string]any

// String returns the parameter rendered as a string, "" when absent.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// StringMap returns a string-to-string parameter such as webhook headers.
func (p Params) StringMap(key string) (map[string]string, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = fmt.Sprint(s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected an object, got %T", key, v)
	}
}

// Map returns an object parameter such as workflow variables.
func (p Params) Map(key string) (map[string]any, error) {
	switch v := p[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = x
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected an object, got %T", key, v)
	}
}

// Spec is the serialised form of an action used by the admin API, the
// YAML rule files and the database. A missing continueOnError means true.
type Spec struct {
	Type            Type   `json:"type" yaml:"type"`
	Order           int    `json:"order" yaml:"order"`
	ContinueOnError *bool  `json:"continueOnError,omitempty" yaml:"continue_on_error,omitempty"`
	Params          Params `json:"params,omitempty" yaml:"params,omitempty"`
}

var builtin = DefaultRegistry()

// FromSpec decodes s with the built-in action types.
func FromSpec(s Spec) (Action, error) {
	return builtin.Decode(s)
}

// Decode turns the wire form into a typed action and validates it.
func (r *Registry) Decode(s Spec) (Action, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(string(s.Type))))
	if t == "" {
		return Action{}, errors.New("action type is required")
	}
	dec, err := r.Get(t)
	if err != nil {
		return Action{}, err
	}
	payload, err := dec(s.Params)
	if err != nil {
		return Action{}, fmt.Errorf("%s: %w", t, err)
	}
	if err := payload.Validate(); err != nil {
		return Action{}, err
	}
	a := Action{Order: s.Order, ContinueOnError: true, Payload: payload}
	if s.ContinueOnError != nil {
		a.ContinueOnError = *s.ContinueOnError
	}
	return a, nil
}

// DecodeAll decodes a list, reporting every invalid entry by index.
func (r *Registry) DecodeAll(specs []Spec) ([]Action, error) {
	out := make([]Action, 0, len(specs))
	var errs []string
	for i, s := range specs {
		a, err := r.Decode(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("actions[%d]: %v", i, err))
			continue
		}
		out = append(out, a)
	}
	if len(errs) > 0 {
		return nil, errors.New(strings.Join(errs, "\n  - "))
	}
	return out, nil
}

// FromSpecs decodes a list with the built-in action types.
func FromSpecs(specs []Spec) ([]Action, error) {
	return builtin.DecodeAll(specs)
}

// ToSpec serialises a typed action.
func ToSpec(a Action) Spec {
	coe := a.ContinueOnError
	s := Spec{Type: a.Type(), Order: a.Order, ContinueOnError: &coe, Params: Params{}}
	set := func(k string, v string) {
		if v != "" {
			s.Params[k] = v
		}
	}
	switch p := a.Payload.(type) {
	case AddTag:
		set(ParamTagName, p.TagName)
	case RemoveTag:
		set(ParamTagName, p.TagName)
	case SetCategory:
		set(ParamCategoryName, p.CategoryName)
	case RemoveCategory:
		set(ParamCategoryName, p.CategoryName)
	case MoveToFolder:
		set(ParamFolderID, p.FolderID)
	case CopyToFolder:
		set(ParamFolderID, p.FolderID)
		set(ParamNewName, p.NewName)
		set(ParamPattern, p.Pattern)
	case SetMetadata:
		set(ParamKey, p.Key)
		s.Params[ParamValue] = p.Value
	case RemoveMetadata:
		set(ParamKey, p.Key)
	case Rename:
		set(ParamNewName, p.NewName)
		set(ParamPattern, p.Pattern)
	case SetStatus:
		set(ParamStatus, string(p.Status))
	case LockDocument:
	case SendNotification:
		set(ParamRecipient, p.Recipient)
		set(ParamMessage, p.Message)
		set(ParamNotificationType, p.Kind)
	case Webhook:
		set(ParamURL, p.URL)
		set(ParamMethod, p.Method)
		set(ParamBody, p.Body)
		if len(p.Headers) > 0 {
			h := make(map[string]any, len(p.Headers))
			for k, v := range p.Headers {
				h[k] = v
			}
			s.Params[ParamHeaders] = h
		}
	case StartWorkflow:
		set(ParamWorkflowKey, p.WorkflowKey)
		if len(p.Variables) > 0 {
			s.Params[ParamVariables] = p.Variables
		}
	}
	if len(s.Params) == 0 {
		s.Params = nil
	}
	return s
}

// ToSpecs serialises a list.
func ToSpecs(actions []Action) []Spec {
	out := make([]Spec, len(actions))
	for i, a := range actions {
		out[i] = ToSpec(a)
	}
	return out
}

// Sorted returns a copy ordered by ascending Order. Equal orders keep
// their relative position.
func Sorted(actions []Action) []Action {
	out := append([]Action(nil), actions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
