//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/catalog-feed/internal/adapter/catalogapi"
	"github.com/couchcryptid/catalog-feed/internal/adapter/kafka"
	"github.com/couchcryptid/catalog-feed/internal/config"
	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

const testEventsTopic = "test-load-events"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("catalog-feed-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// catalogServer serves pages of pageSize listings until page `pages`, then a
// short final page.
func catalogServer(t *testing.T, pageSize, pages int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		n := pageSize
		if page > pages {
			n = pageSize / 2
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[`)
		for i := range n {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":"p%d-%d","title":"listing"}`, page, i)
		}
		fmt.Fprint(w, `]}`)
	}))
}

// TestLoadEventsPublished drives a feed through the catalog client and
// checks that every load lands on the events topic in order.
func TestLoadEventsPublished(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testEventsTopic)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaEventsTopic: testEventsTopic}
	writer := kafka.NewWriter(cfg, logger)
	defer writer.Close()

	srv := catalogServer(t, 4, 1)
	defer srv.Close()
	client := catalogapi.NewClient(srv.URL, 5*time.Second, 4, 100, logger, metrics)

	cache, err := feed.NewCache(8, clockwork.NewRealClock(), metrics)
	require.NoError(t, err)
	loader := feed.NewLoader(cache, logger, metrics, feed.WithPublisher(writer), feed.WithSessionID("it-session"))
	svc := feed.NewService(loader, client, logger)

	filter := domain.FilterConfig{CategoryID: "bikes"}
	res, err := svc.Refresh(ctx, filter)
	require.NoError(t, err)
	require.True(t, res.Entry.HasMore)

	res, err = svc.More(ctx, filter)
	require.NoError(t, err)
	require.False(t, res.Entry.HasMore)
	require.Len(t, res.Entry.Items, 6)

	res, err = svc.More(ctx, filter)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeExhausted, res.Outcome)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testEventsTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer reader.Close()

	want := []struct {
		outcome domain.LoadOutcome
		page    int
		added   int
	}{
		{domain.OutcomeLoaded, 1, 4},
		{domain.OutcomeLoaded, 2, 2},
		{domain.OutcomeExhausted, 0, 0},
	}
	for i, w := range want {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := reader.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read event %d", i)

		ev, err := kafka.DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "category=bikes", string(msg.Key))
		assert.Equal(t, domain.QueryKey("category=bikes"), ev.QueryKey)
		assert.Equal(t, "it-session", ev.SessionID)
		assert.Equal(t, w.outcome, ev.Outcome, "event %d", i)
		assert.Equal(t, w.page, ev.Page, "event %d", i)
		assert.Equal(t, w.added, ev.ItemsAdded, "event %d", i)
	}
}
