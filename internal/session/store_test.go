package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgellow/authguard/internal/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func testEncryptor(t *testing.T) crypto.Encryptor {
	t.Helper()
	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	return enc
}

func testRecord(id string, ttl time.Duration) *Record {
	now := time.Now()
	return &Record{
		ID:       id,
		Subject:  "sub-1",
		Email:    "alice@example.com",
		Name:     "Alice",
		Provider: "oidc",
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       now.Add(time.Hour).Truncate(time.Second),
		},
		CreatedAt: now.Truncate(time.Second),
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
}

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := NewRedisStore(rdb, "test:session:", testEncryptor(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// storeContract runs the behaviour every Store must share
func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		rec := testRecord("sid-roundtrip", time.Hour)
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Email, got.Email)
		assert.Equal(t, rec.Subject, got.Subject)
		require.NotNil(t, got.Token)
		assert.Equal(t, "access-123", got.Token.AccessToken)
		assert.Equal(t, "refresh-456", got.Token.RefreshToken)
		assert.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Second)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		rec := testRecord("sid-delete", time.Hour)
		require.NoError(t, store.Save(ctx, rec))

		require.NoError(t, store.Delete(ctx, rec.ID))
		require.NoError(t, store.Delete(ctx, rec.ID))

		_, err := store.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("without token", func(t *testing.T) {
		rec := testRecord("sid-notoken", time.Hour)
		rec.Token = nil
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Token)
	})
}

func TestMemoryStore(t *testing.T) {
	store, err := NewMemoryStore(testEncryptor(t))
	require.NoError(t, err)
	storeContract(t, store)
}

func TestMemoryStore_TokensEncrypted(t *testing.T) {
	store, err := NewMemoryStore(testEncryptor(t))
	require.NoError(t, err)

	rec := testRecord("sid-1", time.Hour)
	require.NoError(t, store.Save(context.Background(), rec))

	stored := store.records["sid-1"]
	assert.NotEqual(t, "access-123", stored.AccessToken)
	assert.NotEqual(t, "refresh-456", stored.RefreshToken)
	assert.NotEmpty(t, stored.AccessToken)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store, err := NewMemoryStore(testEncryptor(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testRecord("live", time.Hour)))
	require.NoError(t, store.Save(ctx, testRecord("stale", time.Minute)))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound, "expired records read as missing")
	assert.Equal(t, 2, store.Len())

	count, err := store.DeleteExpired(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestNewMemoryStore_RequiresEncryptor(t *testing.T) {
	_, err := NewMemoryStore(nil)
	assert.ErrorContains(t, err, "encryptor is required")
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStoreTest(t)
	storeContract(t, store)
}

func TestRedisStore_TTL(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	ctx := context.Background()

	rec := testRecord("sid-ttl", time.Hour)
	require.NoError(t, store.Save(ctx, rec))

	assert.True(t, mr.Exists("test:session:sid-ttl"))
	ttl := mr.TTL("test:session:sid-ttl")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	raw, err := mr.Get("test:session:sid-ttl")
	require.NoError(t, err)
	assert.NotContains(t, raw, "access-123")
	assert.NotContains(t, raw, "refresh-456")

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SaveExpiredDeletes(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	ctx := context.Background()

	rec := testRecord("sid-old", time.Hour)
	require.NoError(t, store.Save(ctx, rec))

	rec.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(ctx, rec))
	assert.False(t, mr.Exists("test:session:sid-old"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	mr.Close()

	_, err := store.Get(context.Background(), "sid")
	assert.ErrorIs(t, err, ErrRedisUnavailable)
	assert.ErrorIs(t, store.Delete(context.Background(), "sid"), ErrRedisUnavailable)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	store, mr := newRedisStoreTest(t)
	require.NoError(t, mr.Set("test:session:bad", "not json"))

	_, err := store.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "decoding session")
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = DialRedis(context.Background(), addr, "", 0)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil, "p:", testEncryptor(t))
	assert.ErrorContains(t, err, "redis client is required")

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	_, err = NewRedisStore(rdb, "p:", nil)
	assert.ErrorContains(t, err, "encryptor is required")
}

func TestNewFirestoreStore_Validation(t *testing.T) {
	ctx := context.Background()
	enc := testEncryptor(t)

	tests := []struct {
		name       string
		project    string
		collection string
		encryptor  crypto.Encryptor
		wantErr    string
	}{
		{"no encryptor", "proj", "sessions", nil, "encryptor is required"},
		{"no project", "", "sessions", enc, "projectID is required"},
		{"no collection", "proj", "", enc, "collection is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFirestoreStore(ctx, tt.project, "", tt.collection, tt.encryptor)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCodec_WrongKeyFailsDecode(t *testing.T) {
	c, err := newCodec(testEncryptor(t))
	require.NoError(t, err)
	stored, err := c.encode(testRecord("sid", time.Hour))
	require.NoError(t, err)

	other, err := crypto.NewEncryptor([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, err = codec{encryptor: other}.decode(stored)
	assert.ErrorContains(t, err, "decrypting access token")
}
