package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demandline/internal/app"
	"demandline/internal/domain"
	"demandline/internal/engine"
)

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := app.NewManager(app.Options{})
	defer m.CloseAll()

	a, err := m.Open(ctx)
	require.NoError(t, err)
	b, err := m.Open(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.Len())

	_, err = a.Engine.CreateDemand(ctx, engine.DemandCreateOptions{
		Title: "only in a", Type: domain.TypeDraft, AssigneeID: "2", DueDate: time.Now(),
	})
	require.NoError(t, err)

	inA, err := a.Engine.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, inA, 1)
	inB, err := b.Engine.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, inB)
}

func TestCloseDiscardsSession(t *testing.T) {
	ctx := context.Background()
	m := app.NewManager(app.Options{})
	s, err := m.Open(ctx)
	require.NoError(t, err)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Close(s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, app.ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(s.ID), app.ErrSessionNotFound)
	assert.Zero(t, m.Len())
}
