package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
	"github.com/imrishuroy/go-shop-orderflow/internal/events"
	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
	"github.com/imrishuroy/go-shop-orderflow/internal/metrics"
	"github.com/imrishuroy/go-shop-orderflow/internal/users"
)

var tracer = otel.Tracer("github.com/imrishuroy/go-shop-orderflow/internal/orders")

// DefaultPublishTimeout bounds how long a request waits on the event broker.
const DefaultPublishTimeout = 5 * time.Second

// CartSource is the part of the cart service the orchestrator needs.
type CartSource interface {
	Lines(ctx context.Context, userID string) ([]inventory.Line, error)
	RemoveLines(ctx context.Context, userID string, lines []inventory.Line) error
}

// CreateOrderInput is a request to place an order.
type CreateOrderInput struct {
	UserID          string
	Items           []inventory.Line
	ShippingAddress string
	BillingAddress  string
}

// Service coordinates inventory, carts and order persistence. Stock held by
// an order is reserved before the order is stored and released before it is
// marked cancelled.
type Service struct {
	store     Store
	inventory *inventory.Authority
	carts     CartSource
	users     users.Directory
	publisher events.Publisher
	logger    *zap.Logger
	locks     *keyedMutex
	nowFunc   func() time.Time
	newID     func() string

	publishTimeout time.Duration
}

func NewService(store Store, inv *inventory.Authority, carts CartSource, dir users.Directory, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		inventory: inv,
		carts:     carts,
		users:     dir,
		publisher: publisher,
		logger:    logger,
		locks:     newKeyedMutex(),
		nowFunc:   time.Now,
		newID:     uuid.NewString,

		publishTimeout: DefaultPublishTimeout,
	}
}

// CreateOrder reserves every line in the given order and stores the order as
// PROCESSING. If any line cannot be reserved, or the order cannot be stored,
// all earlier reservations are released and the error is returned.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", in.UserID), attribute.Int("order.lines", len(in.Items)))

	o, err := s.createOrder(ctx, in)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	}
	for _, l := range in.Items {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s quantity %d", domain.ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
	}
	if strings.TrimSpace(in.ShippingAddress) == "" || strings.TrimSpace(in.BillingAddress) == "" {
		return nil, fmt.Errorf("%w: shipping and billing address are required", domain.ErrInvalidInput)
	}
	if err := users.Require(ctx, s.users, in.UserID); err != nil {
		return nil, err
	}

	res := s.inventory.Begin()
	items := make([]OrderItem, 0, len(in.Items))
	for _, l := range in.Items {
		p, err := res.Reserve(ctx, l.ProductID, l.Quantity)
		if err != nil {
			s.rollback(ctx, res, in.UserID)
			return nil, err
		}
		items = append(items, OrderItem{
			ID:          s.newID(),
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			Price:       p.Price,
		})
	}

	now := s.nowFunc()
	o := &Order{
		ID:              s.newID(),
		UserID:          in.UserID,
		Items:           items,
		Status:          StatusProcessing,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		s.rollback(ctx, res, in.UserID)
		return nil, fmt.Errorf("store order: %w", err)
	}
	res.Commit()

	metrics.OrdersCreated.Inc()
	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Int("lines", len(o.Items)),
		zap.String("total", o.TotalPrice().String()),
	)
	s.publish(ctx, events.TypeOrderPlaced, o, "")
	return o, nil
}

// CreateOrderFromCart places an order for the cart contents and, once the
// order is stored, takes the ordered quantities off the cart.
func (s *Service) CreateOrderFromCart(ctx context.Context, userID, shippingAddress, billingAddress string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrderFromCart")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	lines, err := s.carts.Lines(ctx, userID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if len(lines) == 0 {
		fail(span, domain.ErrEmptyCart)
		return nil, domain.ErrEmptyCart
	}

	o, err := s.createOrder(ctx, CreateOrderInput{
		UserID:          userID,
		Items:           lines,
		ShippingAddress: shippingAddress,
		BillingAddress:  billingAddress,
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	if err := s.carts.RemoveLines(context.WithoutCancel(ctx), userID, lines); err != nil {
		s.logger.Warn("order placed but cart not updated",
			zap.String("order_id", o.ID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return o, nil
}

// CancelOrder releases the order's stock and marks it CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if err := o.Status.CanTransitionTo(StatusCancelled); err != nil {
		fail(span, err)
		return nil, err
	}

	lines := o.Lines()
	if err := s.inventory.ReleaseAll(ctx, lines); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("release stock of order %s: %w", orderID, err)
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, o.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			err = fmt.Errorf("%w: order %s changed during cancel", domain.ErrConflict, orderID)
		} else {
			err = fmt.Errorf("mark order %s cancelled: %w", orderID, err)
		}
		if rerr := s.reacquire(ctx, orderID, lines); rerr != nil {
			err = fmt.Errorf("%w; stock not re-reserved, order needs reconciliation: %v", err, rerr)
		}
		fail(span, err)
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(o.Status), string(StatusCancelled)).Inc()
	s.logger.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("previous_status", string(o.Status)),
	)
	s.publish(ctx, events.TypeOrderCancelled, updated, o.Status)
	return updated, nil
}

// UpdateStatus moves the order along its lifecycle. Cancelling goes through
// CancelOrder so the stock is returned.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next Status) (*Order, error) {
	if next == StatusCancelled {
		return s.CancelOrder(ctx, orderID)
	}

	ctx, span := tracer.Start(ctx, "orders.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(next)))

	unlock := s.locks.Lock(orderID)
	defer unlock()

	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	if err := o.Status.CanTransitionTo(next); err != nil {
		fail(span, err)
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, o.Status, next)
	if errors.Is(err, ErrStatusMismatch) {
		err = fmt.Errorf("%w: order %s changed concurrently", domain.ErrConflict, orderID)
	}
	if err != nil {
		fail(span, err)
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(o.Status), string(next)).Inc()
	s.logger.Info("order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
	)
	s.publish(ctx, events.TypeOrderStatusChanged, updated, o.Status)
	return updated, nil
}

// GetOrder returns the order or ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// UserOrders lists the user's orders, newest first.
func (s *Service) UserOrders(ctx context.Context, userID string) ([]Order, error) {
	if err := users.Require(ctx, s.users, userID); err != nil {
		return nil, err
	}
	list, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", userID, err)
	}
	return newestFirst(list), nil
}

// OrdersByStatus lists orders in the given status, newest first.
func (s *Service) OrdersByStatus(ctx context.Context, status Status) ([]Order, error) {
	list, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s orders: %w", status, err)
	}
	return newestFirst(list), nil
}

// AllOrders lists every order, newest first.
func (s *Service) AllOrders(ctx context.Context) ([]Order, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return newestFirst(list), nil
}

func (s *Service) rollback(ctx context.Context, res *inventory.Reservation, userID string) {
	if err := res.Rollback(ctx); err != nil {
		s.logger.Error("order reservation rollback incomplete",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// reacquire takes back stock released for a cancel that did not go through.
// Lines that can no longer be reserved are returned joined.
func (s *Service) reacquire(ctx context.Context, orderID string, lines []inventory.Line) error {
	ctx = context.WithoutCancel(ctx)
	res := s.inventory.Begin()
	var errs []error
	for _, l := range lines {
		if _, err := res.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			metrics.CompensationFailures.WithLabelValues(metrics.StepReacquire).Inc()
			s.logger.Error("could not re-reserve stock after failed cancel",
				zap.String("order_id", orderID),
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s x%d: %w", l.ProductID, l.Quantity, err))
		}
	}
	res.Commit()
	return errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, typ events.Type, o *Order, previous Status) {
	ev := events.OrderEvent{
		Type:           typ,
		OrderID:        o.ID,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PreviousStatus: string(previous),
		TotalPrice:     o.TotalPrice().String(),
		OccurredAt:     s.nowFunc().UTC(),
	}
	for _, it := range o.Items {
		ev.Lines = append(ev.Lines, events.Line{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.Price.String()})
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, ev); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(typ)).Inc()
		s.logger.Warn("publish order event",
			zap.String("type", string(typ)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func newestFirst(list []Order) []Order {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
