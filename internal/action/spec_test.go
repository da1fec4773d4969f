package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromSpec_JSON(t *testing.T) {
	raw := `[
	  {"type": "ADD_TAG", "order": 2, "params": {"tagName": "invoice"}},
	  {"type": "webhook", "order": 1, "continueOnError": false,
	   "params": {"url": "https://hooks.example.com", "method": "PUT", "headers": {"X-Id": "{documentId}"}, "body": "{documentName}"}},
	  {"type": "START_WORKFLOW", "params": {"workflowKey": "review", "variables": {"level": 2}}},
	  {"type": "SET_STATUS", "params": {"status": "archived"}}
	]`
	var specs []Spec
	require.NoError(t, json.Unmarshal([]byte(raw), &specs))

	actions, err := FromSpecs(specs)
	require.NoError(t, err)
	require.Len(t, actions, 4)

	assert.Equal(t, AddTag{TagName: "invoice"}, actions[0].Payload)
	assert.True(t, actions[0].ContinueOnError, "continueOnError defaults to true")

	wh, ok := actions[1].Payload.(Webhook)
	require.True(t, ok)
	assert.False(t, actions[1].ContinueOnError)
	assert.Equal(t, map[string]string{"X-Id": "{documentId}"}, wh.Headers)

	assert.Equal(t, StartWorkflow{WorkflowKey: "review", Variables: map[string]any{"level": float64(2)}}, actions[2].Payload)
	assert.Equal(t, SetStatus{Status: "ARCHIVED"}, actions[3].Payload)

	sorted := Sorted(actions)
	assert.Equal(t, TypeWebhook, sorted[0].Type())
	assert.Equal(t, TypeAddTag, sorted[1].Type(), "order 2 after order 1")
	assert.Equal(t, TypeAddTag, actions[0].Type(), "Sorted does not reorder its input")
}

func TestFromSpec_YAML(t *testing.T) {
	raw := `
- type: MOVE_TO_FOLDER
  order: 1
  continue_on_error: false
  params:
    folderId: 6f1c1a4e-5d3b-4b8e-9a57-0c7a1d2e3f40
- type: SEND_NOTIFICATION
  params:
    recipient: finance-team
    message: "New invoice: {documentName}"
    type: email
`
	var specs []Spec
	require.NoError(t, yaml.Unmarshal([]byte(raw), &specs))
	actions, err := FromSpecs(specs)
	require.NoError(t, err)
	assert.Equal(t, MoveToFolder{FolderID: folderA}, actions[0].Payload)
	assert.Equal(t, SendNotification{Recipient: "finance-team", Message: "New invoice: {documentName}", Kind: "email"}, actions[1].Payload)
}

func TestFromSpec_Errors(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
	}{
		{"empty type", Spec{}},
		{"unknown type", Spec{Type: "EXECUTE_SCRIPT"}},
		{"missing tag", Spec{Type: TypeAddTag}},
		{"bad status", Spec{Type: TypeSetStatus, Params: Params{"status": "frozen"}}},
		{"headers not an object", Spec{Type: TypeWebhook, Params: Params{"url": "http://x", "headers": "a=b"}}},
		{"bad method", Spec{Type: TypeWebhook, Params: Params{"url": "http://x", "method": "TRACE"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromSpec(tc.spec)
			assert.Error(t, err)
		})
	}

	_, err := FromSpec(Spec{Type: TypeAddTag})
	assert.ErrorIs(t, err, ErrMissingParam)

	_, err = FromSpecs([]Spec{{Type: TypeAddTag, Params: Params{"tagName": "ok"}}, {Type: TypeRename}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actions[1]")
}

func TestToSpec_RoundTrip(t *testing.T) {
	in := []Action{
		{Order: 1, Payload: CopyToFolder{FolderID: folderA, Pattern: "{name}-copy"}},
		{Order: 2, ContinueOnError: true, Payload: SetMetadata{Key: "reviewed", Value: true}},
		{Order: 3, Payload: LockDocument{}},
		{Order: 4, Payload: Webhook{URL: "https://x", Method: "POST", Headers: map[string]string{"A": "b"}}},
	}
	data, err := json.Marshal(ToSpecs(in))
	require.NoError(t, err)

	var specs []Spec
	require.NoError(t, json.Unmarshal(data, &specs))
	out, err := FromSpecs(specs)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Types(), 14)

	assert.Panics(t, func() {
		r.Register(TypeAddTag, func(Params) (Payload, error) { return AddTag{}, nil })
	})

	_, err := NewRegistry().Get(TypeAddTag)
	assert.Error(t, err)
}

func TestExpandName(t *testing.T) {
	doc := pdf()
	doc.ID = "short"
	assert.Equal(t, "short_report.pdf_pdf", ExpandName("{id}_{name}_{ext}", doc, fixedNow))
}
