package redis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func netError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestAvailabilityGate(t *testing.T) {
	opts := Options{KeyPrefix: "test", OpTimeout: 50 * time.Millisecond, Cooldown: 40 * time.Millisecond}

	t.Run("Warns Once Per Outage", func(t *testing.T) {
		logger, buf := captureLogger()
		a := NewAggregator(nil, opts, logger)

		a.fail("incr_stat", netError())
		a.fail("append_event", netError())

		if a.Connected() {
			t.Error("expected the aggregator to report disconnected")
		}
		if n := strings.Count(buf.String(), "aggregator unavailable"); n != 1 {
			t.Errorf("expected exactly one outage warning, got %d:\n%s", n, buf.String())
		}
	})

	t.Run("Cooldown Gates Reattempts", func(t *testing.T) {
		logger, _ := captureLogger()
		a := NewAggregator(nil, opts, logger)

		a.fail("incr_stat", netError())
		if a.usable() {
			t.Fatal("operations must be skipped right after a failure")
		}
		time.Sleep(60 * time.Millisecond)
		if !a.usable() {
			t.Error("operations must resume once the cooldown elapses")
		}
	})

	t.Run("Recovery Logged Once", func(t *testing.T) {
		logger, buf := captureLogger()
		a := NewAggregator(nil, opts, logger)

		a.fail("incr_stat", netError())
		a.recover()
		a.recover()

		if !a.Connected() {
			t.Error("expected the aggregator to report connected again")
		}
		if n := strings.Count(buf.String(), "connection recovered"); n != 1 {
			t.Errorf("expected exactly one recovery line, got %d:\n%s", n, buf.String())
		}
	})

	t.Run("Non-Network Errors Logged Individually", func(t *testing.T) {
		logger, buf := captureLogger()
		a := NewAggregator(nil, opts, logger)

		a.fail("allow_rate", errors.New("ERR wrong number of arguments"))
		a.fail("allow_rate", errors.New("ERR wrong number of arguments"))

		if a.Connected() {
			t.Error("script errors must still mark the aggregator down")
		}
		if n := strings.Count(buf.String(), "operation failed"); n != 2 {
			t.Errorf("expected each script error logged, got %d:\n%s", n, buf.String())
		}
	})
}

func TestOperations_BackendDown(t *testing.T) {
	// Nothing listens on this port; every operation fails with a dial error.
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	logger, buf := captureLogger()
	a := NewAggregator(client, Options{
		KeyPrefix: "test",
		OpTimeout: 100 * time.Millisecond,
		Cooldown:  time.Minute,
	}, logger)

	allowed, ok := a.AllowRate(context.Background(), "reply|1|/send|2", time.Minute, 10)
	if !allowed || ok {
		t.Fatalf("expected fail-open verdict, got allowed=%v ok=%v", allowed, ok)
	}
	if a.Connected() {
		t.Error("expected disconnected after the failed operation")
	}

	// Cooldown has not elapsed: the snapshot is answered without touching the
	// backend and no second warning appears.
	snap := a.Snapshot(context.Background())
	if snap.Connected || snap.Stats != nil {
		t.Errorf("expected a disconnected snapshot, got %+v", snap)
	}
	if n := strings.Count(buf.String(), "aggregator unavailable"); n != 1 {
		t.Errorf("expected exactly one outage warning, got %d:\n%s", n, buf.String())
	}
}
