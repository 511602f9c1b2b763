package service

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/stretchr/testify/require"
)

// Random interleavings of every settlement operation must never create or
// destroy money, and no user wallet may go negative.
func TestSettlement_ConservesMoney(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		faker := gofakeit.New(seed)
		f := newFixture(t)
		ctx := context.Background()

		users := make([]uuid.UUID, 5)
		for i := range users {
			users[i] = uuid.New()
			f.fund(t, users[i], int64(faker.IntRange(50, 400))*1000)
		}
		pick := func() uuid.UUID { return users[faker.IntRange(0, len(users)-1)] }

		var tickets []uuid.UUID
		for i := 0; i < 8; i++ {
			var code *string
			if faker.Bool() {
				code = strPtr(faker.LetterN(8))
			}
			tickets = append(tickets, f.listTicket(t, pick(), int64(faker.IntRange(1, 150))*1000, code).ID)
		}
		pickTicket := func() uuid.UUID { return tickets[faker.IntRange(0, len(tickets)-1)] }

		for step := 0; step < 60; step++ {
			var err error
			switch faker.IntRange(0, 7) {
			case 0, 1:
				_, err = f.svc.Buy(ctx, buyer(pick()), pickTicket())
			case 2:
				id := pickTicket()
				actor := admin()
				if holder := f.ticket(t, id).BuyerID; holder != nil && faker.Bool() {
					actor = buyer(*holder)
				}
				_, err = f.svc.ConfirmDelivery(ctx, actor, id)
			case 3:
				id := pickTicket()
				actor := admin()
				if holder := f.ticket(t, id).BuyerID; holder != nil && faker.Bool() {
					actor = buyer(*holder)
				}
				_, err = f.svc.Cancel(ctx, actor, id)
			case 4:
				id := pickTicket()
				_, err = f.svc.DeliverCode(ctx, buyer(f.ticket(t, id).SellerID), id, faker.LetterN(6))
			case 5:
				_, err = f.svc.SettleDeliveredHolds(ctx)
			case 6:
				_, err = f.svc.ReleaseExpiredHolds(ctx)
			case 7:
				f.clock.Advance(time.Duration(faker.IntRange(1, 30)) * time.Minute)
			}
			if err != nil {
				require.True(t, isUserError(err), "seed %d step %d: %v", seed, step, err)
			}
			f.requireConserved(t)
			for _, u := range users {
				w := f.wallet(t, u)
				require.GreaterOrEqual(t, w.Balance, int64(0))
				require.GreaterOrEqual(t, w.Escrow, int64(0))
			}
		}

		for _, id := range tickets {
			ticket := f.ticket(t, id)
			if ticket.Status == domain.TicketStatusOnHold {
				require.NotNil(t, ticket.BuyerID)
			}
		}
	}
}
