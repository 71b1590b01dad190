//go:build integration

package natsutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestNATS_QueueGroupDeliversOnce(t *testing.T) {
	nc := connectNATS(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ch := make(chan trigger, 4)
	for i := 0; i < 2; i++ {
		sub, err := Subscribe(nc, "integ.jobs", "workers", log, func(_ context.Context, v trigger) error {
			ch <- v
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	if err := Publish(context.Background(), nc, "integ.jobs", trigger{Job: "correlate"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Job != "correlate" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case extra := <-ch:
		t.Fatalf("queue group delivered twice: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}
