package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type commandsFake struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func (f *commandsFake) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *commandsFake) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.data == nil {
		f.data = map[string]string{}
	}
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestSearchCacheRoundTrip(t *testing.T) {
	fake := &commandsFake{}
	c := newWithCommands(fake, time.Minute)

	_, ok, err := c.Get(context.Background(), "g1:abc")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	resp := &domain.SearchResponse{
		Query:      "warfarin",
		Generation: 1,
		Results:    []domain.RetrievalResult{{ChunkID: "doc:p0001:s0001:c001", FusedScore: 0.9, Method: domain.MethodHybrid}},
	}
	if err := c.Set(context.Background(), "g1:abc", resp); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, stored := fake.data[keyPrefix+"g1:abc"]; !stored || fake.ttl != time.Minute {
		t.Fatalf("expected prefixed key with ttl, got %v ttl=%v", fake.data, fake.ttl)
	}

	got, ok, err := c.Get(context.Background(), "g1:abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Query != "warfarin" || len(got.Results) != 1 || got.Results[0].Method != domain.MethodHybrid {
		t.Fatalf("unexpected cached response: %+v", got)
	}
}

func TestSearchCacheReportsErrors(t *testing.T) {
	c := newWithCommands(&commandsFake{getErr: errors.New("connection refused")}, 0)
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected get error")
	}
	if c.ttl != 10*time.Minute {
		t.Fatalf("expected default ttl, got %v", c.ttl)
	}

	corrupt := &commandsFake{data: map[string]string{keyPrefix + "k": "{not json"}}
	if _, _, err := newWithCommands(corrupt, time.Minute).Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected decode error")
	}
}
