package session_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/session"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newSession() *checkout.Session {
	customer := uuid.NullUUID{UUID: uuid.Must(uuid.NewV4()), Valid: true}
	sess := checkout.NewSession("sess-1", "idem-1", customer, "BRL", time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC))
	sess.Customer = checkout.CustomerIdentity{Name: "Ana", Email: "ana@example.com", Phone: "+5511999990000"}
	return sess
}

type store interface {
	Get(ctx context.Context, id string) (*checkout.Session, error)
	Save(ctx context.Context, sess *checkout.Session) error
	Delete(ctx context.Context, id string) error
}

func TestStores_RoundTrip(t *testing.T) {
	_, client := newRedis(t)

	stores := map[string]store{
		"redis":  session.NewRedisStore(client, time.Hour),
		"memory": session.NewMemoryStore(),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession()

			_, err := s.Get(ctx, sess.ID)
			assert.ErrorIs(t, err, checkout.ErrSessionNotFound)

			require.NoError(t, s.Save(ctx, sess))

			got, err := s.Get(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.IdempotencyKey, got.IdempotencyKey)
			assert.Equal(t, sess.CustomerID, got.CustomerID)
			assert.Equal(t, sess.Customer, got.Customer)
			assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))

			got.Customer.Name = "changed"
			again, err := s.Get(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ana", again.Customer.Name, "store must not share state with callers")

			require.NoError(t, s.Delete(ctx, sess.ID))
			_, err = s.Get(ctx, sess.ID)
			assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
		})
	}
}

func TestRedisStore_Expires(t *testing.T) {
	mr, client := newRedis(t)
	s := session.NewRedisStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, newSession()))
	assert.Equal(t, time.Minute, mr.TTL("checkout:session:sess-1"))

	mr.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, checkout.ErrSessionNotFound)
}

type locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

func TestLockers_SingleHolder(t *testing.T) {
	_, client := newRedis(t)

	lockers := map[string]locker{
		"redis":  session.NewRedisLocker(client, 30*time.Second),
		"memory": session.NewMemoryLocker(),
	}

	for name, l := range lockers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, err := l.Acquire(ctx, "placement:sess-1")
			require.NoError(t, err)

			_, err = l.Acquire(ctx, "placement:sess-1")
			assert.ErrorIs(t, err, checkout.ErrPlacementInFlight)

			other, err := l.Acquire(ctx, "placement:sess-2")
			require.NoError(t, err)
			other()

			release()

			again, err := l.Acquire(ctx, "placement:sess-1")
			require.NoError(t, err)
			again()
		})
	}
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, client := newRedis(t)
	l := session.NewRedisLocker(client, 10*time.Second)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "placement:sess-1")
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)

	fresh, err := l.Acquire(ctx, "placement:sess-1")
	require.NoError(t, err)
	defer fresh()

	stale()

	_, err = l.Acquire(ctx, "placement:sess-1")
	assert.ErrorIs(t, err, checkout.ErrPlacementInFlight)
}

func TestRedisLocker_FailedReleaseLogsAndExpires(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	mr, client := newRedis(t)
	l := session.NewRedisLocker(client, 10*time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "placement:sess-1")
	require.NoError(t, err)

	mr.SetError("ERR script execution failed")
	release()
	mr.SetError("")

	assert.Contains(t, buf.String(), "session: failed to release placement lock")
	assert.Contains(t, buf.String(), `"key":"placement:sess-1"`)

	_, err = l.Acquire(ctx, "placement:sess-1")
	assert.ErrorIs(t, err, checkout.ErrPlacementInFlight)

	mr.FastForward(11 * time.Second)
	again, err := l.Acquire(ctx, "placement:sess-1")
	require.NoError(t, err)
	again()
}

func TestMemoryLocker_Concurrent(t *testing.T) {
	l := session.NewMemoryLocker()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "placement:sess-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
