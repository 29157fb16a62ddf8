package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindEmail.Valid())
	assert.True(t, KindWebhook.Valid())
	assert.False(t, Kind("sms").Valid())
	assert.False(t, Kind("").Valid())
}

func TestOutboxItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    OutboxItem
		wantErr bool
	}{
		{
			name: "valid webhook item",
			item: OutboxItem{
				Kind:    KindWebhook,
				Payload: json.RawMessage(`{"url":"https://api.example.com/h"}`),
			},
		},
		{
			name: "valid email item with tenant",
			item: OutboxItem{
				TenantID: "t1",
				Kind:     KindEmail,
				Payload:  json.RawMessage(`{"to":"a@example.com"}`),
			},
		},
		{
			name:    "unknown kind",
			item:    OutboxItem{Kind: "pigeon", Payload: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "empty payload",
			item:    OutboxItem{Kind: KindEmail},
			wantErr: true,
		},
		{
			name:    "invalid json payload",
			item:    OutboxItem{Kind: KindEmail, Payload: json.RawMessage(`{oops`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
