package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreWebhookCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w := &Webhook{URL: "https://example.com/hook", Events: []string{"user.created"}, IsActive: true}
	require.NoError(t, store.CreateWebhook(ctx, w))
	assert.NotEmpty(t, w.ID)
	assert.False(t, w.CreatedAt.IsZero())

	got, err := store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, w.URL, got.URL)

	// the store hands out copies, not aliases
	got.URL = "https://mutated.example.com"
	again, err := store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", again.URL)

	w.URL = "https://updated.example.com"
	require.NoError(t, store.UpdateWebhook(ctx, w))
	got, err = store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://updated.example.com", got.URL)

	require.NoError(t, store.DeleteWebhook(ctx, w.ID))
	got, err = store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, store.DeleteWebhook(ctx, w.ID))
	assert.Error(t, store.UpdateWebhook(ctx, w))
}

func TestRecordOutcome(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	w := &Webhook{URL: "https://example.com/hook", Events: []string{"user.created"}, IsActive: true, MaxRetries: 2}
	require.NoError(t, store.CreateWebhook(ctx, w))

	updated, disabled, err := store.RecordOutcome(ctx, w.ID, false, now)
	require.NoError(t, err)
	assert.False(t, disabled)
	assert.Equal(t, 1, updated.FailureCount)

	updated, disabled, err = store.RecordOutcome(ctx, w.ID, true, now)
	require.NoError(t, err)
	assert.False(t, disabled)
	assert.Equal(t, 0, updated.FailureCount)
	require.NotNil(t, updated.LastSuccessAt)

	// threshold is twice the retry budget
	for i := 0; i < 3; i++ {
		_, disabled, err = store.RecordOutcome(ctx, w.ID, false, now)
		require.NoError(t, err)
		assert.False(t, disabled)
	}
	updated, disabled, err = store.RecordOutcome(ctx, w.ID, false, now)
	require.NoError(t, err)
	assert.True(t, disabled)
	assert.False(t, updated.IsActive)

	_, _, err = store.RecordOutcome(ctx, "missing", false, now)
	assert.Error(t, err)
}

func TestRecordOutcomeConcurrentChains(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// budget high enough that no outcome trips auto-disable mid-test
	w := &Webhook{URL: "https://example.com/hook", Events: []string{"user.created"}, IsActive: true, MaxRetries: 50}
	require.NoError(t, store.CreateWebhook(ctx, w))

	const chains = 40
	var wg sync.WaitGroup
	for i := 0; i < chains; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.RecordOutcome(ctx, w.ID, false, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetWebhook(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, chains, got.FailureCount)
	assert.True(t, got.IsActive)
}

func TestMemoryStoreListWebhooksByTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, tenant := range []string{"acme", "acme", "globex"} {
		require.NoError(t, store.CreateWebhook(ctx, &Webhook{
			URL: "https://example.com", TenantID: tenant,
			Events: []string{"user.created"}, IsActive: true,
		}))
	}

	all, err := store.ListWebhooks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	acme, err := store.ListWebhooks(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, acme, 2)
}

func TestMemoryStoreListSubscribed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	subscribed := &Webhook{URL: "https://a", Events: []string{"user.created"}, IsActive: true}
	other := &Webhook{URL: "https://b", Events: []string{"user.deleted"}, IsActive: true}
	disabled := &Webhook{URL: "https://c", Events: []string{"user.created"}, IsActive: false}
	for _, w := range []*Webhook{subscribed, other, disabled} {
		require.NoError(t, store.CreateWebhook(ctx, w))
	}

	got, err := store.ListSubscribed(ctx, "user.created", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, subscribed.ID, got[0].ID)
}

func TestMemoryStoreDeliveryImmutability(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	d := &Delivery{WebhookID: "w1", EventType: "user.created", AttemptNumber: 1}
	require.NoError(t, store.CreateDelivery(ctx, d))

	now := time.Now().UTC()
	d.Success = true
	d.DeliveredAt = &now
	require.NoError(t, store.UpdateDelivery(ctx, d))

	// finalized attempts reject further writes
	d.Success = false
	assert.Error(t, store.UpdateDelivery(ctx, d))
}

func TestMemoryStoreListDeliveriesOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.CreateDelivery(ctx, &Delivery{
			WebhookID:     "w1",
			AttemptNumber: i,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := store.ListDeliveries(ctx, "w1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 5, got[0].AttemptNumber)
	assert.Equal(t, 3, got[2].AttemptNumber)
}

func TestMemoryStoreListDeliveriesSince(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateDelivery(ctx, &Delivery{WebhookID: "w1", CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.CreateDelivery(ctx, &Delivery{WebhookID: "w1", CreatedAt: now.AddDate(0, 0, -1)}))

	got, err := store.ListDeliveriesSince(ctx, "w1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStoreLogsAndPruning(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendLog(ctx, &Log{Level: LogLevelInfo, Message: "old", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.AppendLog(ctx, &Log{Level: LogLevelWarning, Message: "recent", WebhookID: "w1"}))

	logs, err := store.ListLogs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "recent", logs[0].Message)

	scoped, err := store.ListLogs(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Len(t, scoped, 1)

	pruned, err := store.PruneLogs(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	logs, err = store.ListLogs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "recent", logs[0].Message)
}
