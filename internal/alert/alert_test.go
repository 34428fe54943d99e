package alert

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForThreat(t *testing.T) {
	tests := []struct {
		threat  int
		level   Level
		message string
	}{
		{0, LevelInfo, "System appears safe."},
		{40, LevelInfo, "System appears safe."},
		{41, LevelWarning, "Moderate threat detected."},
		{75, LevelWarning, "Moderate threat detected."},
		{76, LevelCritical, "High threat detected!"},
		{100, LevelCritical, "High threat detected!"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.threat), func(t *testing.T) {
			a := ForThreat("https://x.com", tt.threat)
			assert.Equal(t, tt.level, a.Level)
			assert.Equal(t, tt.message, a.Message)
			assert.Equal(t, tt.threat, a.ThreatLevel)
			assert.Equal(t, "https://x.com", a.Target)
			assert.NotEmpty(t, a.ID)
			assert.False(t, a.CreatedAt.IsZero())
		})
	}
}

func TestForThreat_UniqueIDs(t *testing.T) {
	a, b := ForThreat("t", 0), ForThreat("t", 0)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	assert.NoError(t, s.Push(context.Background(), ForThreat("t", 90)))
	assert.NoError(t, s.Close())
}

// sequence returns alerts with strictly increasing creation times.
func sequence(n int) []Alert {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]Alert, n)
	for i := range out {
		a := ForThreat(fmt.Sprintf("https://t%d.example", i), i*10)
		a.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		out[i] = a
	}
	return out
}

func TestBoltSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.db")
	s, err := NewBoltSink(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	ctx := context.Background()
	alerts := sequence(5)
	for _, a := range alerts {
		require.NoError(t, s.Push(ctx, a))
	}

	all, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, alerts[4].ID, all[0].ID)
	assert.Equal(t, alerts[0].ID, all[4].ID)

	top, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, alerts[4].Target, top[0].Target)
	assert.Equal(t, alerts[3].Target, top[1].Target)

	require.NoError(t, s.Close())

	reopened, err := NewBoltSink(path)
	require.NoError(t, err)
	defer reopened.Close()

	again, err := reopened.List(0)
	require.NoError(t, err)
	assert.Len(t, again, 5)
}

func TestBoltSink_Empty(t *testing.T) {
	s, err := NewBoltSink(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.List(10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBoltSink_CancelledContext(t *testing.T) {
	s, err := NewBoltSink(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Push(ctx, ForThreat("t", 1)))
}

func TestAlertKey_SortsByTime(t *testing.T) {
	alerts := sequence(2)
	// Sub-second digits are kept even when they end in zeros.
	assert.Less(t, string(alertKey(alerts[0])), string(alertKey(alerts[1])))
}

func newRedisSink(t *testing.T, maxLen int64) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisSinkFromClient(client, RedisConfig{Key: "alerts:test", MaxLen: maxLen})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisSink(t *testing.T) {
	s, mr := newRedisSink(t, 3)
	ctx := context.Background()

	alerts := sequence(5)
	for _, a := range alerts {
		require.NoError(t, s.Push(ctx, a))
	}

	items, err := mr.List("alerts:test")
	require.NoError(t, err)
	assert.Len(t, items, 3)

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, alerts[4].ID, got[0].ID)
	assert.Equal(t, alerts[2].ID, got[2].ID)

	one, err := s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, alerts[4].ID, one[0].ID)
}

func TestRedisSink_Defaults(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSinkFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), RedisConfig{})
	defer s.Close()

	assert.Equal(t, "pathscout:alerts", s.key)
	assert.Equal(t, int64(1000), s.maxLen)
}

func TestNewRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	s, err := NewRedisSink(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Push(context.Background(), ForThreat("t", 50)))
	assert.True(t, mr.Exists(cfg.Key))
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisSink(ctx, RedisConfig{Addr: addr})
	assert.Error(t, err)
}
