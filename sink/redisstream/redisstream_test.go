package redisstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nebulastream/nes-core/sink"
)

func TestWrite_AddsEachRecordToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := newWithClient(client, Config{Stream: "orders"})
	defer s.Close()

	records := []sink.Record{
		{Fields: map[string]any{"key": "a", "sum": 12.0}},
		{Fields: map[string]any{"key": "b", "sum": 34.0}},
	}
	if err := s.Write(context.Background(), records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	n, err := client.XLen(context.Background(), "orders").Result()
	if err != nil {
		t.Fatalf("XLen: %v", err)
	}
	if n != 2 {
		t.Fatalf("stream length = %d, want 2", n)
	}

	entries, err := client.XRange(context.Background(), "orders", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(entries[0].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["key"] != "a" {
		t.Fatalf("decoded payload = %+v, want key=a", decoded)
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if s.config.Stream != DefaultStream {
		t.Errorf("Stream = %q, want %q", s.config.Stream, DefaultStream)
	}
	if s.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", s.config.Timeout, DefaultTimeout)
	}
}

func TestWrite_FailsAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := newWithClient(client, Config{Stream: "orders"})
	s.Close()

	err := s.Write(context.Background(), []sink.Record{{Fields: map[string]any{"a": 1}}})
	if err == nil {
		t.Fatal("expected error writing after close")
	}
}

func TestWrite_ContextCanceled(t *testing.T) {
	s, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := s.Write(ctx, []sink.Record{{Fields: map[string]any{"a": 1}}}); err == nil {
		t.Fatal("expected error on canceled context")
	}
}
