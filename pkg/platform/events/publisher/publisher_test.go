package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "ledgerd/pkg/domain"
	"ledgerd/pkg/platform/events"
	"ledgerd/pkg/platform/events/store/memory"
)

type PublisherSuite struct {
	suite.Suite
	store *memory.InMemoryStore
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
}

func (s *PublisherSuite) TestSyncEmit() {
	ctx := context.Background()
	pub := NewPublisher(s.store)
	defer pub.Close()

	userID := id.NewUserID()

	s.Run("appends directly and fills id and timestamp", func() {
		err := pub.Emit(ctx, events.Event{
			Action: events.ActionPlanChanged,
			UserID: userID,
			Detail: "free -> enhanced_protection",
		})
		s.Require().NoError(err)

		got, err := s.store.ListAll(ctx)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.NotEqual(uuid.Nil, got[0].ID)
		s.False(got[0].At.IsZero())
		s.Equal(events.ActionPlanChanged, got[0].Action)
		s.Equal(userID, got[0].UserID)
	})

	s.Run("caller-supplied id and timestamp survive", func() {
		eventID := uuid.New()
		at := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

		err := pub.Emit(ctx, events.Event{
			ID:     eventID,
			Action: events.ActionReceiptSent,
			UserID: userID,
			At:     at,
		})
		s.Require().NoError(err)

		got, err := s.store.ListAll(ctx)
		s.Require().NoError(err)
		last := got[len(got)-1]
		s.Equal(eventID, last.ID)
		s.True(last.At.Equal(at))
	})
}

func (s *PublisherSuite) TestAsyncEmit() {
	ctx := context.Background()
	userID := id.NewUserID()

	s.Run("close drains every buffered event", func() {
		pub := NewPublisher(s.store, WithAsyncBuffer(16))

		for i := 0; i < 10; i++ {
			s.Require().NoError(pub.Emit(ctx, events.Event{
				Action: events.ActionPaymentRepaired,
				UserID: userID,
			}))
		}
		pub.Close()

		got, err := s.store.ListAll(ctx)
		s.Require().NoError(err)
		s.Len(got, 10)
	})

	s.Run("close is idempotent", func() {
		pub := NewPublisher(s.store, WithAsyncBuffer(1))
		s.Require().NoError(pub.Emit(ctx, events.Event{Action: events.ActionBenefitCredit, UserID: userID}))
		pub.Close()
		pub.Close()
	})

	s.Run("emit on a full buffer honors cancellation", func() {
		// Zero-capacity inbox with a saturated worker: fill the single
		// in-flight slot, then a cancelled Emit must return promptly.
		blocked := make(chan struct{})
		pub := NewPublisher(blockingStore{release: blocked}, WithAsyncBuffer(0))
		defer func() {
			close(blocked)
			pub.Close()
		}()

		s.Require().NoError(pub.Emit(ctx, events.Event{Action: events.ActionPlanSetAtFixed, UserID: userID}))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := pub.Emit(cancelled, events.Event{Action: events.ActionPlanSetAtFixed, UserID: userID})
		s.ErrorIs(err, context.Canceled)
	})
}

// blockingStore stalls Append until released, simulating a slow sink.
type blockingStore struct {
	release chan struct{}
}

func (b blockingStore) Append(context.Context, events.Event) error {
	<-b.release
	return nil
}
