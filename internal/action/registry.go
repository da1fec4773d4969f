package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/docrules/internal/document"
)

// Decoder builds a typed payload from a wire parameter map.
type Decoder func(p Params) (Payload, error)

// Registry maps action type names to their decoders.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Type]Decoder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[Type]Decoder)}
}

// DefaultRegistry returns a registry holding every built-in action type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeAddTag, func(p Params) (Payload, error) {
		return AddTag{TagName: p.String(ParamTagName)}, nil
	})
	r.Register(TypeRemoveTag, func(p Params) (Payload, error) {
		return RemoveTag{TagName: p.String(ParamTagName)}, nil
	})
	r.Register(TypeSetCategory, func(p Params) (Payload, error) {
		return SetCategory{CategoryName: p.String(ParamCategoryName)}, nil
	})
	r.Register(TypeRemoveCategory, func(p Params) (Payload, error) {
		return RemoveCategory{CategoryName: p.String(ParamCategoryName)}, nil
	})
	r.Register(TypeMoveToFolder, func(p Params) (Payload, error) {
		return MoveToFolder{FolderID: p.String(ParamFolderID)}, nil
	})
	r.Register(TypeCopyToFolder, func(p Params) (Payload, error) {
		return CopyToFolder{
			FolderID: p.String(ParamFolderID),
			NewName:  p.String(ParamNewName),
			Pattern:  p.String(ParamPattern),
		}, nil
	})
	r.Register(TypeSetMetadata, func(p Params) (Payload, error) {
		return SetMetadata{Key: p.String(ParamKey), Value: p[ParamValue]}, nil
	})
	r.Register(TypeRemoveMetadata, func(p Params) (Payload, error) {
		return RemoveMetadata{Key: p.String(ParamKey)}, nil
	})
	r.Register(TypeRename, func(p Params) (Payload, error) {
		return Rename{NewName: p.String(ParamNewName), Pattern: p.String(ParamPattern)}, nil
	})
	r.Register(TypeSetStatus, decodeSetStatus)
	r.Register(TypeLockDocument, func(Params) (Payload, error) {
		return LockDocument{}, nil
	})
	r.Register(TypeSendNotification, func(p Params) (Payload, error) {
		return SendNotification{
			Recipient: p.String(ParamRecipient),
			Message:   p.String(ParamMessage),
			Kind:      p.String(ParamNotificationType),
		}, nil
	})
	r.Register(TypeWebhook, decodeWebhook)
	r.Register(TypeStartWorkflow, decodeStartWorkflow)
	return r
}

// Register adds a decoder. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(t Type, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[t]; exists {
		panic(fmt.Sprintf("action registry: duplicate type %q", t))
	}
	r.decoders[t] = d
}

// Get returns the decoder for the given type.
func (r *Registry) Get(t Type) (Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[t]
	if !ok {
		return nil, fmt.Errorf("no decoder registered for action type %q", t)
	}
	return d, nil
}

// Types returns all registered action types, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decodeSetStatus(p Params) (Payload, error) {
	raw := p.String(ParamStatus)
	if raw == "" {
		return SetStatus{}, nil
	}
	st, ok := document.ParseStatus(raw)
	if !ok {
		return nil, fmt.Errorf("unknown status %q", raw)
	}
	return SetStatus{Status: st}, nil
}

func decodeWebhook(p Params) (Payload, error) {
	headers, err := p.StringMap(ParamHeaders)
	if err != nil {
		return nil, err
	}
	return Webhook{
		URL:     p.String(ParamURL),
		Method:  p.String(ParamMethod),
		Headers: headers,
		Body:    p.String(ParamBody),
	}, nil
}

func decodeStartWorkflow(p Params) (Payload, error) {
	vars, err := p.Map(ParamVariables)
	if err != nil {
		return nil, err
	}
	return StartWorkflow{WorkflowKey: p.String(ParamWorkflowKey), Variables: vars}, nil
}
