package concurrency

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// counterScripter evaluates the limiter scripts against an in-memory map.
type counterScripter struct {
	counts map[string]int
	calls  int
}

func newCounterScripter() *counterScripter {
	return &counterScripter{counts: make(map[string]int)}
}

func (c *counterScripter) EvalSha(_ context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	c.calls++
	key := keys[0]
	switch sha1 {
	case acquireScript.Hash():
		if c.counts[key] < args[0].(int) {
			c.counts[key]++
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case releaseScript.Hash():
		if c.counts[key] <= 1 {
			delete(c.counts, key)
			return redis.NewCmdResult(int64(0), nil)
		}
		c.counts[key]--
		return redis.NewCmdResult(int64(c.counts[key]), nil)
	}
	return redis.NewCmdResult(nil, redis.Nil)
}

func (c *counterScripter) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, redis.Nil)
}

func (c *counterScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return c.Eval(ctx, script, keys, args...)
}

func (c *counterScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return c.EvalSha(ctx, sha1, keys, args...)
}

func (c *counterScripter) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (c *counterScripter) ScriptLoad(_ context.Context, _ string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestAcquireHonoursPerOwnerLimit(t *testing.T) {
	ctx := context.Background()
	scripter := newCounterScripter()
	l := NewLimiter(scripter, 1, time.Minute)

	ok, err := l.Acquire(ctx, "alice", 0)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "alice", 0)
	if err != nil || ok {
		t.Fatalf("second acquire should be refused: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "bob", 0)
	if err != nil || !ok {
		t.Fatalf("other owner should not be limited: ok=%v err=%v", ok, err)
	}

	if err := l.Release(ctx, "alice"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = l.Acquire(ctx, "alice", 0)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestAcquireWithoutLimitSkipsRedis(t *testing.T) {
	scripter := newCounterScripter()
	l := NewLimiter(scripter, 0, 0)

	ok, err := l.Acquire(context.Background(), "alice", 0)
	if err != nil || !ok {
		t.Fatalf("unlimited acquire: ok=%v err=%v", ok, err)
	}
	if scripter.calls != 0 {
		t.Fatalf("expected no script calls, got %d", scripter.calls)
	}
}

func TestOwnerKey(t *testing.T) {
	l := NewLimiter(newCounterScripter(), 1, 0)
	if got := l.key("alice@example.com"); got != "bridge:owner:alice@example.com:active" {
		t.Fatalf("unexpected key %q", got)
	}
	if l.ttl != 2*time.Minute {
		t.Fatalf("expected default ttl, got %v", l.ttl)
	}
}
