// ABOUTME: Tests for the scheduled-message store
// ABOUTME: Pending record lifecycle and persistence

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/internal/store"
)

func newTestScheduler(t *testing.T) (*Service, store.Blobs) {
	t.Helper()
	blobs, err := store.NewSQLiteBlobs(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return NewService(context.Background(), blobs, nil), blobs
}

func TestSchedule_CreatesPendingRecord(t *testing.T) {
	svc, _ := newTestScheduler(t)
	when := time.Now().Add(48 * time.Hour).UTC()

	msg := svc.Schedule("Maria", "+55 21 98888-7777", "Lembrete da reunião", when, "u2")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, store.SchedulePending, msg.Status)
	assert.Equal(t, "Maria", msg.CustomerName)
	assert.Equal(t, when, msg.ScheduledDate)
	assert.Equal(t, "u2", msg.CreatedBy)

	list := svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
}

func TestSchedule_PastDateStaysPending(t *testing.T) {
	svc, _ := newTestScheduler(t)

	msg := svc.Schedule("Maria", "+55 21 98888-7777", "atrasado", time.Now().Add(-time.Hour), "u2")
	assert.Equal(t, store.SchedulePending, msg.Status)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestScheduler(t)
	msg := svc.Schedule("Maria", "+55 21 98888-7777", "x", time.Now().Add(time.Hour), "u2")

	require.NoError(t, svc.Cancel(msg.ID))
	assert.Empty(t, svc.List())
}

func TestCancel_Unknown(t *testing.T) {
	svc, _ := newTestScheduler(t)
	assert.ErrorIs(t, svc.Cancel("nope"), ErrNotFound)
}

func TestList_PreservesCreationOrder(t *testing.T) {
	svc, _ := newTestScheduler(t)
	first := svc.Schedule("A", "+55 11 90000-0001", "1", time.Now().Add(2*time.Hour), "u2")
	second := svc.Schedule("B", "+55 11 90000-0002", "2", time.Now().Add(time.Hour), "u2")

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestService_PersistsAcrossRestart(t *testing.T) {
	svc, blobs := newTestScheduler(t)
	msg := svc.Schedule("Maria", "+55 21 98888-7777", "persiste", time.Now().Add(time.Hour).UTC(), "u2")

	restored := NewService(context.Background(), blobs, nil)
	list := restored.List()
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)
	assert.Equal(t, "persiste", list[0].Text)
}
