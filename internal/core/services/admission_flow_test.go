package services_test

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/srgjo27/travel_booking/internal/adapter/events"
	"github.com/srgjo27/travel_booking/internal/adapter/repository/memory"
	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/services"
)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	require.TestingT
}

func newMemoryService(t tb, opts services.Options) (*services.BookingService, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	return services.NewBookingService(store, store, nil, events.NoopPublisher{}, opts), store
}

func seedItem(t tb, store *memory.Store, kind domain.InventoryKind, capacity int, price float64) *domain.InventoryItem {
	t.Helper()

	item := &domain.InventoryItem{
		ID:                uuid.New(),
		Kind:              kind,
		Name:              "seeded " + string(kind),
		Capacity:          capacity,
		CapacityRemaining: capacity,
		Price:             price,
		PricingUnit:       kind.DefaultPricingUnit(),
		Active:            true,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func remaining(t tb, store *memory.Store, id uuid.UUID) int {
	t.Helper()

	item, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.CapacityRemaining
}

func admit(t tb, svc *services.BookingService, itemID uuid.UUID, quantity int, start, end string) *services.AdmitResponse {
	t.Helper()

	resp, err := svc.Admit(context.Background(), services.AdmitRequest{
		ItemID:      itemID.String(),
		RequesterID: uuid.New().String(),
		Quantity:    quantity,
		StartDate:   start,
		EndDate:     end,
	})
	require.NoError(t, err)
	return resp
}

func TestFlow_AdmitDecrementsCapacity(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindTour, 5, 120)

	resp := admit(t, svc, item.ID, 3, "", "")

	assert.True(t, resp.Admitted)
	assert.Equal(t, 2, *resp.UpdatedCapacityRemaining)
	require.NotNil(t, resp.TotalAmount)
	assert.Equal(t, 360.0, *resp.TotalAmount)
	assert.Equal(t, 2, remaining(t, store, item.ID))
}

func TestFlow_OverCapacityIsRejected(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindHotDeal, 2, 75)

	resp := admit(t, svc, item.ID, 3, "", "")

	assert.False(t, resp.Admitted)
	assert.Equal(t, domain.CapacityExceeded, resp.Reason)
	assert.Equal(t, "only 2 slots remain", resp.Message)
	assert.Equal(t, 2, remaining(t, store, item.ID))
}

func TestFlow_RentalPricedPerDay(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindCar, 4, 50)

	resp := admit(t, svc, item.ID, 2, "2025-01-01", "2025-01-04")

	require.True(t, resp.Admitted)
	require.NotNil(t, resp.TotalAmount)
	assert.Equal(t, 300.0, *resp.TotalAmount)
}

func TestFlow_EmptyRangeIsInvalid(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindCar, 4, 50)

	resp := admit(t, svc, item.ID, 1, "2025-01-04", "2025-01-04")

	assert.False(t, resp.Admitted)
	assert.Equal(t, domain.InvalidDateRange, resp.Reason)
	assert.Equal(t, 4, remaining(t, store, item.ID))
}

func TestFlow_PastStartIsRejected(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindCar, 4, 50)

	resp := admit(t, svc, item.ID, 1, "2024-12-01", "2025-01-04")

	assert.False(t, resp.Admitted)
	assert.Equal(t, domain.DateInPast, resp.Reason)
}

func TestFlow_CancelFreesTheLastUnit(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindFlight, 1, 900)

	first := admit(t, svc, item.ID, 1, "", "")
	require.True(t, first.Admitted)
	assert.Equal(t, 0, remaining(t, store, item.ID))

	cancelled, err := svc.Cancel(context.Background(), first.BookingID)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled.CapacityRemaining)

	second := admit(t, svc, item.ID, 1, "", "")
	assert.True(t, second.Admitted)

	_, err = svc.Cancel(context.Background(), first.BookingID)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestFlow_ConcurrentAdmissionsNeverOversell(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindTour, 4, 100)

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		reasons  = map[domain.ErrorKind]int{}
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			resp, err := svc.Admit(context.Background(), services.AdmitRequest{
				ItemID:      item.ID.String(),
				RequesterID: uuid.New().String(),
				Quantity:    1,
			})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if resp.Admitted {
				admitted++
			} else {
				reasons[resp.Reason]++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, map[domain.ErrorKind]int{domain.CapacityExceeded: callers - 4}, reasons)
	assert.Equal(t, 0, remaining(t, store, item.ID))
	assert.Equal(t, 4, store.CommittedQuantity(item.ID))
}

func TestFlow_ExpiryReleasesStalePending(t *testing.T) {
	now := fixedNow
	clock := func() time.Time { return now }
	svc, store := newMemoryService(t, services.Options{PendingTTL: 10 * time.Minute, Now: clock})
	item := seedItem(t, store, domain.KindTour, 3, 100)

	resp := admit(t, svc, item.ID, 2, "", "")
	require.True(t, resp.Admitted)

	now = now.Add(time.Hour)

	released, err := svc.ExpirePendingBookings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 3, remaining(t, store, item.ID))
}

// Any interleaving of admits and cancels keeps committed quantity within
// capacity and remaining capacity consistent with it.
func TestProperty_CapacityInvariantHolds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc, store := newMemoryService(rt, services.Options{})
		capacity := rapid.IntRange(1, 12).Draw(rt, "capacity")
		item := seedItem(rt, store, domain.KindHotDeal, capacity, 10)

		var live []string
		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(rt, "cancel") {
				idx := rapid.IntRange(0, len(live)-1).Draw(rt, "victim")
				_, err := svc.Cancel(context.Background(), live[idx])
				if err != nil {
					rt.Fatalf("cancel: %v", err)
				}
				live = append(live[:idx], live[idx+1:]...)
			} else {
				q := rapid.IntRange(-1, 5).Draw(rt, "quantity")
				resp := admit(rt, svc, item.ID, q, "", "")
				if resp.Admitted {
					live = append(live, resp.BookingID)
				}
			}

			committed := store.CommittedQuantity(item.ID)
			if committed > capacity {
				rt.Fatalf("committed %d exceeds capacity %d", committed, capacity)
			}
			if got := remaining(rt, store, item.ID); got != capacity-committed {
				rt.Fatalf("remaining %d, want %d", got, capacity-committed)
			}
		}
	})
}

func TestProperty_CancelRestoresCapacity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc, store := newMemoryService(rt, services.Options{})
		capacity := rapid.IntRange(1, 20).Draw(rt, "capacity")
		item := seedItem(rt, store, domain.KindTour, capacity, 45)

		before := remaining(rt, store, item.ID)
		q := rapid.IntRange(1, capacity).Draw(rt, "quantity")
		resp := admit(rt, svc, item.ID, q, "", "")
		if !resp.Admitted {
			rt.Fatalf("admission of %d/%d rejected: %s", q, capacity, resp.Reason)
		}

		if _, err := svc.Cancel(context.Background(), resp.BookingID); err != nil {
			rt.Fatalf("cancel: %v", err)
		}
		if after := remaining(rt, store, item.ID); after != before {
			rt.Fatalf("remaining %d after cancel, want %d", after, before)
		}
	})
}

func TestProperty_InvalidRangeNeverMutatesItem(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		item := domain.InventoryItem{
			ID:                uuid.New(),
			Kind:              domain.KindCar,
			Capacity:          10,
			CapacityRemaining: rapid.IntRange(0, 10).Draw(rt, "remaining"),
			Price:             50,
			PricingUnit:       domain.PricePerDay,
			Active:            true,
			Version:           rapid.IntRange(1, 100).Draw(rt, "version"),
		}
		snapshot := item

		start := fixedNow.Add(time.Duration(rapid.IntRange(0, 1000).Draw(rt, "start_hours")) * time.Hour)
		end := start.Add(-time.Duration(rapid.IntRange(0, 1000).Draw(rt, "back_hours")) * time.Hour)
		req := domain.BookingRequest{
			ItemID:      item.ID,
			RequesterID: uuid.New(),
			Quantity:    rapid.IntRange(1, 10).Draw(rt, "quantity"),
			Range:       &domain.DateRange{Start: start, End: end},
		}

		decision := domain.Evaluate(item, req, fixedNow)
		if decision.Admitted || decision.Rejection.Kind != domain.InvalidDateRange {
			rt.Fatalf("expected InvalidDateRange, got %+v", decision)
		}
		if item != snapshot {
			rt.Fatalf("item mutated: %+v", item)
		}
	})
}

func TestProperty_Pricing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc, store := newMemoryService(rt, services.Options{})
		price := float64(rapid.IntRange(0, 5000).Draw(rt, "price"))
		q := rapid.IntRange(1, 5).Draw(rt, "quantity")

		if rapid.Bool().Draw(rt, "rental") {
			item := seedItem(rt, store, domain.KindCar, 5, price)
			days := rapid.IntRange(1, 30).Draw(rt, "days")
			start := fixedNow.AddDate(0, 0, 1).Truncate(domain.Day)
			end := start.AddDate(0, 0, days)

			resp := admit(rt, svc, item.ID, q, start.Format(time.RFC3339), end.Format(time.RFC3339))
			if !resp.Admitted {
				rt.Fatalf("rental rejected: %s", resp.Reason)
			}
			if want := price * float64(q) * float64(days); *resp.TotalAmount != want {
				rt.Fatalf("total %v, want %v", *resp.TotalAmount, want)
			}
			return
		}

		item := seedItem(rt, store, domain.KindFlight, 5, price)
		resp := admit(rt, svc, item.ID, q, "", "")
		if !resp.Admitted {
			rt.Fatalf("seat booking rejected: %s", resp.Reason)
		}
		if want := price * float64(q); *resp.TotalAmount != want {
			rt.Fatalf("total %v, want %v", *resp.TotalAmount, want)
		}
	})
}

func TestFlow_FractionalQuantityIsInvalidQuantity(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindTour, 5, 100)

	var req services.AdmitRequest
	body := `{"item_id":"` + item.ID.String() + `","requester_id":"` + uuid.NewString() + `","quantity":1.5}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	resp, err := svc.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Admitted)
	assert.Equal(t, domain.InvalidQuantity, resp.Reason)
	assert.Equal(t, "quantity must be a whole number, got 1.5", resp.Message)
	assert.Equal(t, 5, remaining(t, store, item.ID))
}

func TestFlow_FractionalQuantityOnMissingItemIsUnavailable(t *testing.T) {
	svc, _ := newMemoryService(t, services.Options{})

	var req services.AdmitRequest
	body := `{"item_id":"` + uuid.NewString() + `","requester_id":"` + uuid.NewString() + `","quantity":0.5}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	resp, err := svc.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryUnavailable, resp.Reason)
}

func TestAdmitRequest_UnmarshalQuantity(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"integer", `{"quantity":3}`, 3, false},
		{"whole float", `{"quantity":2.0}`, 2, false},
		{"missing", `{}`, 0, false},
		{"negative", `{"quantity":-4}`, -4, false},
		{"unknown field", `{"quantity":1,"seat":4}`, 0, true},
		{"not a number", `{"quantity":"three"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req services.AdmitRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Quantity)
		})
	}
}

func TestFlow_FreeItemReportsZeroTotal(t *testing.T) {
	svc, store := newMemoryService(t, services.Options{})
	item := seedItem(t, store, domain.KindTour, 3, 0)

	resp := admit(t, svc, item.ID, 1, "", "")
	require.True(t, resp.Admitted)
	require.NotNil(t, resp.TotalAmount)
	assert.Zero(t, *resp.TotalAmount)

	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"total_amount":0`)
}

func TestFlow_UnresponsiveBrokerDoesNotDelayAdmission(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 8)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-accepted:
				c.Close()
			default:
				return
			}
		}
	})

	publisher := events.NewRabbitPublisher("amqp://guest:guest@"+ln.Addr().String()+"/", "",
		events.WithDialTimeout(300*time.Millisecond),
		events.WithErrorHandler(func(string, error) {}),
	)
	defer publisher.Close()

	store := memory.NewStore()
	svc := services.NewBookingService(store, store, nil, publisher, services.Options{Now: fixedClock})
	item := seedItem(t, store, domain.KindTour, 5, 100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	resp, err := svc.Admit(ctx, services.AdmitRequest{
		ItemID:      item.ID.String(),
		RequesterID: uuid.NewString(),
		Quantity:    1,
	})
	require.NoError(t, err)
	assert.True(t, resp.Admitted)
	assert.Less(t, time.Since(started), 250*time.Millisecond)
}
