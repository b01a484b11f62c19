//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

func setupRedisContainer(t *testing.T, ctx context.Context) *SessionStore {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := Connect(ctx, Options{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewSessionStore(client)
}

func newSession(t *testing.T, identityID uuid.UUID) *models.Session {
	sessionID, err := uuid.NewV7()
	require.NoError(t, err)

	now := time.Now()
	return &models.Session{
		SessionID:  sessionID,
		IdentityID: identityID,
		Email:      "kid@example.com",
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		LastUsedAt: now,
	}
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	st := setupRedisContainer(t, ctx)

	t.Run("create get extend delete", func(t *testing.T) {
		session := newSession(t, uuid.New())
		require.NoError(t, st.Create(ctx, session))

		got, err := st.Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.Equal(t, session.IdentityID, got.IdentityID)

		expiresAt := time.Now().Add(2 * time.Hour)
		require.NoError(t, st.Extend(ctx, session.SessionID, expiresAt))

		got, err = st.Get(ctx, session.SessionID)
		require.NoError(t, err)
		require.WithinDuration(t, expiresAt, got.ExpiresAt, time.Second)

		require.NoError(t, st.Delete(ctx, session.SessionID))
		_, err = st.Get(ctx, session.SessionID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("delete by identity", func(t *testing.T) {
		identityID := uuid.New()
		for range 2 {
			require.NoError(t, st.Create(ctx, newSession(t, identityID)))
		}

		count, err := st.DeleteByIdentity(ctx, identityID)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("extend missing session", func(t *testing.T) {
		err := st.Extend(ctx, uuid.New(), time.Now().Add(time.Hour))
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})
}
