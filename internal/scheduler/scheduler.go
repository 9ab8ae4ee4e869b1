// ABOUTME: Scheduler store: operator-created future sends as a simple append/remove list
// ABOUTME: Records stay pending until explicitly deleted; nothing fires them by elapsed time

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/store"
)

// ErrNotFound is returned when cancelling an unknown scheduled message.
var ErrNotFound = errors.New("scheduled message not found")

// Service manages ScheduledMessage records. Every mutation snapshots the
// collection to the blob store, same policy as the conversation engine.
//
// There is no due-time firing loop: records are created pending and removed
// explicitly. The sent status exists in the model but no engine transition
// produces it.
type Service struct {
	mu     sync.Mutex
	msgs   []*store.ScheduledMessage
	blobs  store.Blobs
	logger *slog.Logger
}

// NewService restores the scheduled-message collection from the blob store.
func NewService(ctx context.Context, blobs store.Blobs, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	return &Service{
		msgs:   store.LoadCollection(ctx, blobs, store.KeyScheduledMessages, store.SeedScheduledMessages(), logger),
		blobs:  blobs,
		logger: logger,
	}
}

// Schedule creates a pending record for the given contact and point in time.
func (s *Service) Schedule(customerName, customerPhone, text string, when time.Time, createdBy string) *store.ScheduledMessage {
	msg := &store.ScheduledMessage{
		ID:            uuid.New().String(),
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
		Text:          text,
		ScheduledDate: when,
		Status:        store.SchedulePending,
		CreatedBy:     createdBy,
	}

	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("message scheduled", "id", msg.ID, "customer", customerName, "when", when)
	cp := *msg
	return &cp
}

// Cancel removes a scheduled message unconditionally.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, msg := range s.msgs {
		if msg.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			s.persistLocked()
			s.logger.Info("scheduled message cancelled", "id", id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns a copy of all scheduled messages in creation order.
func (s *Service) List() []*store.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.ScheduledMessage, len(s.msgs))
	for i, msg := range s.msgs {
		cp := *msg
		out[i] = &cp
	}
	return out
}

func (s *Service) persistLocked() {
	store.SaveCollection(s.blobs, store.KeyScheduledMessages, s.msgs, s.logger)
}
