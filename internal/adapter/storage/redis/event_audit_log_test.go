package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"payments-ledger/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAuditLog_AppendAndRecent(t *testing.T) {
	_, client := newTestClient(t)
	log := NewEventAuditLog(client, 3)
	ctx := context.Background()

	for _, ref := range []string{"r1", "r2", "r3", "r4"} {
		require.NoError(t, log.Append(ctx, &domain.AuditedEvent{
			Provider:          domain.ProviderPaystack,
			Type:              domain.EventChargeSucceeded,
			RawType:           "charge.success",
			ProviderReference: ref,
			Body:              json.RawMessage(`{"event":"charge.success"}`),
			ReceivedAt:        time.Now().UTC(),
		}))
	}

	events, err := log.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3, "log is capped at its configured size")
	assert.Equal(t, "r4", events[0].ProviderReference)
	assert.Equal(t, "r2", events[2].ProviderReference)
	assert.JSONEq(t, `{"event":"charge.success"}`, string(events[0].Body))

	events, err = log.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventAuditLog_Empty(t *testing.T) {
	_, client := newTestClient(t)
	events, err := NewEventAuditLog(client, 10).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, events)
}
