package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	assert.True(t, KindQuery.IsValid())
	assert.True(t, KindMutation.IsValid())
	assert.False(t, Kind("other").IsValid())

	k, err := ParseKind("mutation")
	require.NoError(t, err)
	assert.Equal(t, KindMutation, k)

	_, err = ParseKind("write")
	assert.Error(t, err)
}

func TestToolValidate(t *testing.T) {
	tests := []struct {
		name    string
		tool    Tool
		wantErr bool
	}{
		{"valid", Tool{Name: "search_emails", Kind: KindQuery}, false},
		{"missing name", Tool{Kind: KindQuery}, true},
		{"bad kind", Tool{Name: "x", Kind: "bad"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tool.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArgsDescribe(t *testing.T) {
	args := Args{"query": "urgent", "limit": 5, "unread": true}
	assert.Equal(t, `{"args":{"limit":"5","query":"urgent","unread":"true"}}`, args.Describe())

	assert.Equal(t, `{"args":{}}`, Args(nil).Describe())
	assert.Equal(t, "", args.String("missing"))
	assert.Equal(t, "5", args.String("limit"))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, Args) (string, error) { return "ok", nil }

	reg.Register(Tool{Name: "send_email", Kind: KindMutation, Description: "v1"}, noop)
	reg.Register(Tool{Name: "search_emails", Kind: KindQuery, Description: "search"}, noop)
	reg.Register(Tool{Name: "send_email", Kind: KindMutation, Description: "v2"}, noop)

	assert.Equal(t, 2, reg.Len())

	e, ok := reg.Get("send_email")
	require.True(t, ok)
	assert.Equal(t, "v2", e.Tool.Description, "last registration wins")

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	descs := reg.Export()
	require.Len(t, descs, 2)
	assert.Equal(t, "search_emails", descs[0].Name)
	assert.Equal(t, KindQuery, descs[0].Kind)
	assert.Equal(t, "send_email", descs[1].Name)
	assert.Equal(t, "v2", descs[1].Description)
}

func TestRegistryInvalidKindDefaultsToQuery(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{Name: "odd", Kind: "weird"}, nil)

	e, ok := reg.Get("odd")
	require.True(t, ok)
	assert.Equal(t, KindQuery, e.Tool.Kind)
}
