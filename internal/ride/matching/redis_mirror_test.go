package matching_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/ride/domain"
	"github.com/example/ridedispatch/internal/ride/matching"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client
}

func TestRedisMirrorTracksAvailability(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	mirror := matching.NewRedisMirror(client, "")

	arjun := domain.NewDriver("Arjun", arjunLoc)
	require.NoError(t, mirror.Sync(ctx, arjun))

	members, err := client.ZCard(ctx, "drivers:available").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, members)

	fields, err := client.HGetAll(ctx, "driver:Arjun").Result()
	require.NoError(t, err)
	require.Equal(t, "true", fields["available"])
	require.Equal(t, "12.9611", fields["lat"])

	arjun.Available = false
	require.NoError(t, mirror.Sync(ctx, arjun))

	_, err = client.ZScore(ctx, "drivers:available", "Arjun").Result()
	require.ErrorIs(t, err, redis.Nil)

	available, err := client.HGet(ctx, "driver:Arjun", "available").Result()
	require.NoError(t, err)
	require.Equal(t, "false", available)
}

func TestRegistryWithRedisMirror(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	reg := matching.NewRegistry(matching.WithMirror(matching.NewRedisMirror(client, "fleet")))

	require.NoError(t, reg.Register(ctx, domain.NewDriver("Arjun", arjunLoc)))
	require.NoError(t, reg.Register(ctx, domain.NewDriver("Kiran", kiranLoc)))
	_, err := reg.Reserve(ctx, pickup)
	require.NoError(t, err)

	names, err := client.ZRange(ctx, "fleet", 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"Kiran"}, names)
}
