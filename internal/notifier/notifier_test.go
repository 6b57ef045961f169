package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/db"
	"github.com/dealscout/dealscout/internal/models"
)

type fakeSender struct {
	sent []models.Deal
	err  error
}

func (f *fakeSender) SendDeal(_ context.Context, _ int64, deal models.Deal) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, deal)
	return nil
}

func testNotifier(t *testing.T, sender Sender, dailyLimit int) (*Notifier, *miniredis.Miniredis, *int) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	n := New(db.NewRedisStore(client), sender, dailyLimit)
	pauses := 0
	n.sleep = func(time.Duration) { pauses++ }
	return n, mr, &pauses
}

func deals(n int) []models.Deal {
	out := make([]models.Deal, n)
	for i := range out {
		out[i] = models.Deal{
			Title: fmt.Sprintf("Товар %d", i),
			URL:   fmt.Sprintf("https://www.ozon.ru/product/item-%d/", i),
			Price: 1000 + i,
			Score: float64(100 - i),
		}
	}
	return out
}

func TestSendBatchDelivers(t *testing.T) {
	sender := &fakeSender{}
	n, _, _ := testNotifier(t, sender, 100)

	sent, err := n.SendBatch(context.Background(), 42, deals(3))
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Len(t, sender.sent, 3)
}

func TestSendBatchSuppressesDuplicates(t *testing.T) {
	sender := &fakeSender{}
	n, _, _ := testNotifier(t, sender, 100)

	batch := deals(3)
	_, err := n.SendBatch(context.Background(), 42, batch)
	require.NoError(t, err)

	sent, err := n.SendBatch(context.Background(), 42, batch)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Len(t, sender.sent, 3)
}

func TestSendBatchDedupIsPerChat(t *testing.T) {
	sender := &fakeSender{}
	n, _, _ := testNotifier(t, sender, 100)

	batch := deals(2)
	_, err := n.SendBatch(context.Background(), 42, batch)
	require.NoError(t, err)

	sent, err := n.SendBatch(context.Background(), 43, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestSendBatchDailyLimitTripsCooldown(t *testing.T) {
	sender := &fakeSender{}
	n, _, _ := testNotifier(t, sender, 2)

	sent, err := n.SendBatch(context.Background(), 42, deals(5))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	// the cooldown now swallows everything, including unseen products
	sent, err = n.SendBatch(context.Background(), 42, []models.Deal{{
		Title: "Новый", URL: "https://www.ozon.ru/product/new-1/", Price: 1,
	}})
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestSendBatchCooldownExpires(t *testing.T) {
	sender := &fakeSender{}
	n, mr, _ := testNotifier(t, sender, 1)

	_, err := n.SendBatch(context.Background(), 42, deals(3))
	require.NoError(t, err)

	mr.FastForward(25 * time.Hour)

	sent, err := n.SendBatch(context.Background(), 42, []models.Deal{{
		Title: "Новый", URL: "https://www.ozon.ru/product/new-2/", Price: 1,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestSendBatchChunkPause(t *testing.T) {
	sender := &fakeSender{}
	n, _, pauses := testNotifier(t, sender, 100)

	sent, err := n.SendBatch(context.Background(), 42, deals(25))
	require.NoError(t, err)
	assert.Equal(t, 25, sent)
	assert.Equal(t, 2, *pauses)
}

func TestSendBatchSenderErrorSkipsMark(t *testing.T) {
	sender := &fakeSender{err: fmt.Errorf("telegram down")}
	n, _, _ := testNotifier(t, sender, 100)

	sent, err := n.SendBatch(context.Background(), 42, deals(2))
	require.NoError(t, err)
	assert.Zero(t, sent)

	// nothing was marked sent, a retry can deliver
	sender.err = nil
	sent, err = n.SendBatch(context.Background(), 42, deals(2))
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestFormatDeal(t *testing.T) {
	pct := 42.0
	text := FormatDeal(models.Deal{
		Title: "Ноутбук <Pro>", URL: "https://www.ozon.ru/product/item-1/",
		Price: 49990, DiscountPct: &pct, Score: 62.7, Source: models.SourceOzon, FakeMSRP: true,
	})
	assert.Contains(t, text, "&lt;Pro&gt;")
	assert.Contains(t, text, "49990 ₽")
	assert.Contains(t, text, "−42%")
	assert.Contains(t, text, "62.7")
	assert.Contains(t, text, "завышенной")
	assert.Contains(t, text, "Ozon")
}

func TestAlertMonitorSlack(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body["text"])
	}))
	defer srv.Close()

	m := NewAlertMonitor(srv.URL, nil)
	m.Notify(context.Background(), "dlq backlog high")
	require.Len(t, got, 1)
	assert.Equal(t, "dlq backlog high", got[0])
}

func TestAlertMonitorFallsBackAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var fallback []string
	m := NewAlertMonitor(srv.URL, func(_ context.Context, text string) error {
		fallback = append(fallback, text)
		return nil
	})

	for i := 0; i < 4; i++ {
		m.Notify(context.Background(), "alert")
	}
	assert.Len(t, fallback, 2) // third and fourth failures reroute
}

func TestAlertMonitorNoWebhookUsesFallback(t *testing.T) {
	var fallback []string
	m := NewAlertMonitor("", func(_ context.Context, text string) error {
		fallback = append(fallback, text)
		return nil
	})
	m.Notify(context.Background(), "alert")
	assert.Equal(t, []string{"alert"}, fallback)
}
