package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/carts"
	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
	"github.com/imrishuroy/go-shop-orderflow/internal/events"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/users"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc       *Service
	store     Store
	products  *inventory.MemoryStore
	carts     *carts.Service
	publisher *recordingPublisher
}

func newFixture(t *testing.T, store Store) fixture {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	products := inventory.NewMemoryStore(
		inventory.Product{ID: "p1", Name: "Tee", Price: decimal.RequireFromString("10.00"), Quantity: 10, Active: true},
		inventory.Product{ID: "p2", Name: "Mug", Price: decimal.RequireFromString("2.50"), Quantity: 1, Active: true},
		inventory.Product{ID: "p3", Name: "Cap", Price: decimal.RequireFromString("7.00"), Quantity: 5, Active: true},
	)
	authority := inventory.NewAuthority(products, zap.NewNop(), 100)
	dir := users.NewMemoryDirectory("u1", "u2")
	cartSvc := carts.NewService(carts.NewMemoryStore(), authority, dir, zap.NewNop())
	pub := &recordingPublisher{}
	svc := NewService(store, authority, cartSvc, dir, pub, zap.NewNop())
	return fixture{svc: svc, store: store, products: products, carts: cartSvc, publisher: pub}
}

func (f fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.products.Get(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("get product %s: %v %v", id, p, err)
	}
	return p.Quantity
}

func input(lines ...inventory.Line) CreateOrderInput {
	return CreateOrderInput{
		UserID:          "u1",
		Items:           lines,
		ShippingAddress: "1 Main St",
		BillingAddress:  "1 Main St",
	}
}

func TestCreateOrder_ReservesAndCapturesPrices(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 3}, inventory.Line{ProductID: "p3", Quantity: 2}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if o.Status != StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", o.Status)
	}
	if len(o.Items) != 2 || o.Items[0].ProductName != "Tee" || !o.Items[0].Price.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected items: %+v", o.Items)
	}
	if !o.TotalPrice().Equal(decimal.RequireFromString("44")) {
		t.Fatalf("expected total 44, got %s", o.TotalPrice())
	}
	if f.stock(t, "p1") != 7 || f.stock(t, "p3") != 3 {
		t.Fatalf("stock not reserved: p1=%d p3=%d", f.stock(t, "p1"), f.stock(t, "p3"))
	}

	stored, err := f.svc.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if !stored.TotalPrice().Equal(o.TotalPrice()) {
		t.Fatalf("stored total %s differs from %s", stored.TotalPrice(), o.TotalPrice())
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != events.TypeOrderPlaced {
		t.Fatalf("expected one OrderPlaced event, got %v", got)
	}
}

func TestCreateOrder_RollsBackOnShortage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 2}, inventory.Line{ProductID: "p2", Quantity: 5}))
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if f.stock(t, "p1") != 10 || f.stock(t, "p2") != 1 {
		t.Fatalf("stock not restored: p1=%d p2=%d", f.stock(t, "p1"), f.stock(t, "p2"))
	}
	all, _ := f.svc.AllOrders(ctx)
	if len(all) != 0 {
		t.Fatalf("no order should be stored, got %d", len(all))
	}
	if got := f.publisher.types(); len(got) != 0 {
		t.Fatalf("no event expected, got %v", got)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	noAddress := input(inventory.Line{ProductID: "p1", Quantity: 1})
	noAddress.BillingAddress = "  "
	ghost := input(inventory.Line{ProductID: "p1", Quantity: 1})
	ghost.UserID = "ghost"

	cases := []struct {
		name string
		in   CreateOrderInput
		want error
	}{
		{"no items", input(), domain.ErrInvalidInput},
		{"zero quantity", input(inventory.Line{ProductID: "p1", Quantity: 0}), domain.ErrInvalidQuantity},
		{"blank address", noAddress, domain.ErrInvalidInput},
		{"unknown user", ghost, domain.ErrUserNotFound},
		{"unknown product", input(inventory.Line{ProductID: "nope", Quantity: 1}), domain.ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreateOrder(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("rejected orders must not hold stock, got %d", f.stock(t, "p1"))
	}
}

// failingCreateStore refuses to persist orders.
type failingCreateStore struct {
	*MemoryStore
}

func (s failingCreateStore) Create(context.Context, *Order) error {
	return errors.New("table unavailable")
}

func TestCreateOrder_RollsBackWhenStoreFails(t *testing.T) {
	f := newFixture(t, failingCreateStore{NewMemoryStore()})

	_, err := f.svc.CreateOrder(context.Background(), input(inventory.Line{ProductID: "p1", Quantity: 4}))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("stock should be released, got %d", f.stock(t, "p1"))
	}
}

func TestCreateOrder_CapturedPriceSurvivesPriceChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	p, _ := f.products.Get(ctx, "p1")
	p.Price = decimal.RequireFromString("99.99")
	if err := f.products.Put(ctx, *p); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	stored, err := f.svc.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}
	if !stored.Items[0].Price.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("captured price changed to %s", stored.Items[0].Price)
	}
	if !stored.TotalPrice().Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected total 20, got %s", stored.TotalPrice())
	}
}

func TestCreateOrder_PublishFailureDoesNotFailOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("broker down")

	if _, err := f.svc.CreateOrder(context.Background(), input(inventory.Line{ProductID: "p1", Quantity: 1})); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if f.stock(t, "p1") != 9 {
		t.Fatalf("expected stock 9, got %d", f.stock(t, "p1"))
	}
}

func TestCreateOrderFromCart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.carts.AddItem(ctx, "u1", "p1", 2); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, "u1", "p3", 1); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}

	o, err := f.svc.CreateOrderFromCart(ctx, "u1", "ship", "bill")
	if err != nil {
		t.Fatalf("CreateOrderFromCart error: %v", err)
	}
	if len(o.Items) != 2 || !o.TotalPrice().Equal(decimal.RequireFromString("27")) {
		t.Fatalf("unexpected order: %+v total %s", o.Items, o.TotalPrice())
	}
	if f.stock(t, "p1") != 8 || f.stock(t, "p3") != 4 {
		t.Fatalf("stock not reserved: p1=%d p3=%d", f.stock(t, "p1"), f.stock(t, "p3"))
	}
	lines, _ := f.carts.Lines(ctx, "u1")
	if len(lines) != 0 {
		t.Fatalf("cart should be cleared, got %+v", lines)
	}
}

func TestCreateOrderFromCart_EmptyCart(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CreateOrderFromCart(context.Background(), "u1", "ship", "bill")
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

// shopperDuringCheckout keeps shopping in another tab right after the cart
// was read for the order.
type shopperDuringCheckout struct {
	*carts.Service
	t *testing.T
}

func (s shopperDuringCheckout) Lines(ctx context.Context, userID string) ([]inventory.Line, error) {
	lines, err := s.Service.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Service.AddItem(ctx, userID, "p3", 1); err != nil {
		s.t.Fatalf("AddItem error: %v", err)
	}
	if _, err := s.Service.AddItem(ctx, userID, "p1", 1); err != nil {
		s.t.Fatalf("AddItem error: %v", err)
	}
	return lines, nil
}

func TestCreateOrderFromCart_KeepsItemsAddedDuringCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.carts = shopperDuringCheckout{Service: f.carts, t: t}

	if _, err := f.carts.AddItem(ctx, "u1", "p1", 2); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}

	o, err := f.svc.CreateOrderFromCart(ctx, "u1", "ship", "bill")
	if err != nil {
		t.Fatalf("CreateOrderFromCart error: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].Quantity != 2 {
		t.Fatalf("unexpected order lines: %+v", o.Items)
	}

	left, err := f.carts.Lines(ctx, "u1")
	if err != nil {
		t.Fatalf("Lines error: %v", err)
	}
	got := map[string]int{}
	for _, l := range left {
		got[l.ProductID] = l.Quantity
	}
	if len(got) != 2 || got["p1"] != 1 || got["p3"] != 1 {
		t.Fatalf("expected p1=1 p3=1 left in the cart, got %+v", got)
	}
}

func TestCreateOrderFromCart_FailureKeepsCart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.carts.AddItem(ctx, "u1", "p1", 1); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	if _, err := f.carts.AddItem(ctx, "u1", "p2", 1); err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	// another shopper takes the last mug
	if _, err := f.svc.CreateOrder(ctx, CreateOrderInput{UserID: "u2", Items: []inventory.Line{{ProductID: "p2", Quantity: 1}}, ShippingAddress: "a", BillingAddress: "b"}); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if _, err := f.svc.CreateOrderFromCart(ctx, "u1", "ship", "bill"); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	lines, _ := f.carts.Lines(ctx, "u1")
	if len(lines) != 2 {
		t.Fatalf("cart must be kept after a failed order, got %+v", lines)
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("p1 must be released, got %d", f.stock(t, "p1"))
	}
}

func TestCancelOrder_RestoresStockOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 3}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	cancelled, err := f.svc.CancelOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("expected stock 10, got %d", f.stock(t, "p1"))
	}

	if _, err := f.svc.CancelOrder(ctx, o.ID); !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("second cancel must not release again, got %d", f.stock(t, "p1"))
	}
	want := []events.Type{events.TypeOrderPlaced, events.TypeOrderCancelled}
	if got := f.publisher.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestCancelOrder_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.CancelOrder(context.Background(), "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelOrder_DeliveredIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 2}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	for _, st := range []Status{StatusShipped, StatusDelivered} {
		if _, err := f.svc.UpdateStatus(ctx, o.ID, st); err != nil {
			t.Fatalf("UpdateStatus(%s) error: %v", st, err)
		}
	}

	if _, err := f.svc.CancelOrder(ctx, o.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	stored, _ := f.svc.GetOrder(ctx, o.ID)
	if stored.Status != StatusDelivered {
		t.Fatalf("status must stay DELIVERED, got %s", stored.Status)
	}
	if f.stock(t, "p1") != 8 {
		t.Fatalf("stock must stay 8, got %d", f.stock(t, "p1"))
	}
}

func TestCancelOrder_ConcurrentCancelsReleaseOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 4}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CancelOrder(ctx, o.ID)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadyCancelled) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful cancel, got %d", succeeded)
	}
	if f.stock(t, "p1") != 10 {
		t.Fatalf("expected stock 10, got %d", f.stock(t, "p1"))
	}
}

// racingStore reports that another writer changed the status first.
type racingStore struct {
	*MemoryStore
}

func (s racingStore) UpdateStatus(context.Context, string, Status, Status) (*Order, error) {
	return nil, ErrStatusMismatch
}

func TestCancelOrder_LostRaceReacquiresStock(t *testing.T) {
	f := newFixture(t, racingStore{NewMemoryStore()})
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 3}, inventory.Line{ProductID: "p3", Quantity: 1}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if _, err := f.svc.CancelOrder(ctx, o.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if f.stock(t, "p1") != 7 || f.stock(t, "p3") != 4 {
		t.Fatalf("stock must stay held by the order: p1=%d p3=%d", f.stock(t, "p1"), f.stock(t, "p3"))
	}
}

// sellOutStore loses the status race, and the released stock is sold to
// someone else before it can be taken back.
type sellOutStore struct {
	*MemoryStore
	sellOut func()
}

func (s *sellOutStore) UpdateStatus(context.Context, string, Status, Status) (*Order, error) {
	s.sellOut()
	return nil, ErrStatusMismatch
}

func TestCancelOrder_ReportsStockThatCouldNotBeReacquired(t *testing.T) {
	store := &sellOutStore{MemoryStore: NewMemoryStore()}
	f := newFixture(t, store)
	ctx := context.Background()
	store.sellOut = func() {
		other := inventory.NewAuthority(f.products, zap.NewNop(), 100)
		if _, err := other.Reserve(ctx, "p1", 10); err != nil {
			t.Errorf("sell out p1: %v", err)
		}
	}

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 3}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	_, err = f.svc.CancelOrder(ctx, o.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "reconciliation") || !strings.Contains(err.Error(), "p1 x3") {
		t.Fatalf("error should name the stock that was not re-reserved: %v", err)
	}
	if errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatal("the caller-facing error must stay a conflict")
	}
}

// stallingPublisher blocks until its context ends.
type stallingPublisher struct {
	hadDeadline chan bool
}

func (p stallingPublisher) Publish(ctx context.Context, _ events.OrderEvent) error {
	_, ok := ctx.Deadline()
	p.hadDeadline <- ok
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateOrder_PublishIsBounded(t *testing.T) {
	f := newFixture(t, nil)
	pub := stallingPublisher{hadDeadline: make(chan bool, 1)}
	f.svc.publisher = pub
	f.svc.publishTimeout = 20 * time.Millisecond

	start := time.Now()
	if _, err := f.svc.CreateOrder(context.Background(), input(inventory.Line{ProductID: "p1", Quantity: 1})); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if !<-pub.hadDeadline {
		t.Fatal("publish context has no deadline")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("CreateOrder waited %s on the broker", elapsed)
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, o.ID, StatusDelivered); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("skipping SHIPPED should fail, got %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, o.ID, StatusPending); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("moving backwards should fail, got %v", err)
	}
	for _, st := range []Status{StatusShipped, StatusDelivered, StatusReturned} {
		updated, err := f.svc.UpdateStatus(ctx, o.ID, st)
		if err != nil {
			t.Fatalf("UpdateStatus(%s) error: %v", st, err)
		}
		if updated.Status != st {
			t.Fatalf("expected %s, got %s", st, updated.Status)
		}
	}
	if _, err := f.svc.UpdateStatus(ctx, o.ID, StatusCancelled); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancelling a returned order should fail, got %v", err)
	}
	if f.stock(t, "p1") != 9 {
		t.Fatalf("status changes other than cancel must not move stock, got %d", f.stock(t, "p1"))
	}
}

func TestUpdateStatus_CancelReleasesStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 5}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, o.ID, StatusShipped); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	updated, err := f.svc.UpdateStatus(ctx, o.ID, StatusCancelled)
	if err != nil {
		t.Fatalf("UpdateStatus(CANCELLED) error: %v", err)
	}
	if updated.Status != StatusCancelled || f.stock(t, "p1") != 10 {
		t.Fatalf("expected cancelled order and stock 10, got %s / %d", updated.Status, f.stock(t, "p1"))
	}
	if _, err := f.svc.UpdateStatus(ctx, o.ID, StatusProcessing); !errors.Is(err, domain.ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.nowFunc = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 1}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	second, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p3", Quantity: 1}))
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	other := CreateOrderInput{UserID: "u2", Items: []inventory.Line{{ProductID: "p1", Quantity: 1}}, ShippingAddress: "a", BillingAddress: "b"}
	third, err := f.svc.CreateOrder(ctx, other)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, third.ID); err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}

	mine, err := f.svc.UserOrders(ctx, "u1")
	if err != nil {
		t.Fatalf("UserOrders error: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != first.ID {
		t.Fatalf("expected [second first], got %+v", mine)
	}
	if _, err := f.svc.UserOrders(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	cancelled, err := f.svc.OrdersByStatus(ctx, StatusCancelled)
	if err != nil {
		t.Fatalf("OrdersByStatus error: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != third.ID {
		t.Fatalf("expected only the third order, got %+v", cancelled)
	}

	all, err := f.svc.AllOrders(ctx)
	if err != nil {
		t.Fatalf("AllOrders error: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID {
		t.Fatalf("expected 3 orders newest first, got %+v", all)
	}
}

func TestOrders_ConserveStockUnderConcurrency(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var placed []*Order
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := f.svc.CreateOrder(ctx, input(inventory.Line{ProductID: "p1", Quantity: 1}, inventory.Line{ProductID: "p3", Quantity: 1}))
			if err != nil {
				if !errors.Is(err, domain.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			placed = append(placed, o)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(placed) != 5 {
		t.Fatalf("p3 holds 5 units, expected 5 orders, got %d", len(placed))
	}
	for i, o := range placed {
		if i%2 == 0 {
			if _, err := f.svc.CancelOrder(ctx, o.ID); err != nil {
				t.Fatalf("CancelOrder error: %v", err)
			}
		}
	}

	open, _ := f.svc.OrdersByStatus(ctx, StatusProcessing)
	held := map[string]int{}
	for _, o := range open {
		for _, it := range o.Items {
			held[it.ProductID] += it.Quantity
		}
	}
	if f.stock(t, "p1")+held["p1"] != 10 {
		t.Fatalf("p1 not conserved: stock %d + held %d", f.stock(t, "p1"), held["p1"])
	}
	if f.stock(t, "p3")+held["p3"] != 5 {
		t.Fatalf("p3 not conserved: stock %d + held %d", f.stock(t, "p3"), held["p3"])
	}
}
