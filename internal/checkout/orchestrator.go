package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fjod/go_checkout/internal/domain"
	"github.com/fjod/go_checkout/internal/repository"
)

const defaultDeliveryMethod = "delivery"

var (
	tracer  = otel.Tracer("github.com/fjod/go_checkout/internal/checkout")
	timeNow = time.Now
)

type ProceedOptions struct {
	StoreID        *int64
	CallbackURL    *string
	CancelURL      *string
	// ReturnURL is where the shopper lands once the callback is verified.
	ReturnURL      *string
	DeliveryMethod string
	Metadata       map[string]any
}

// Result is what a committed checkout produced. Deferred holds post-commit
// steps that failed; the order and payment stand regardless.
type Result struct {
	Order    *domain.Order
	Payment  *domain.Payment
	Deferred []error
}

type postCommit struct {
	name string
	run  func(ctx context.Context) error
}

// ProceedToPayment validates the draft and, in one transaction, creates the
// order, its items, the payment, the payable link and an OrderPlaced event.
// Clearing the cart and deleting the draft happen after commit.
func (s *Service) ProceedToPayment(ctx context.Context, token string, opts ProceedOptions) (_ *Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.ProceedToPayment")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sess, err := s.sessions.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err = s.SyncItems(ctx, sess); err != nil {
		return nil, err
	}
	if err = s.Validate(ctx, sess); err != nil {
		return nil, err
	}

	order := s.draftOrder(ctx, sess, opts)
	var pay *domain.Payment

	err = s.tx.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		items := orderItems(sess.Items)
		if err := tx.CreateOrderItems(ctx, order.ID, items); err != nil {
			return err
		}
		order.Items = items

		pay = s.draftPayment(order, sess, opts)
		if err := tx.CreatePayment(ctx, pay); err != nil {
			return err
		}

		payable := &domain.Payable{
			PaymentID:   pay.ID,
			PayableType: domain.PayableTypeOrder,
			PayableID:   order.ID,
			Amount:      pay.Amount,
		}
		if err := tx.CreatePayable(ctx, payable); err != nil {
			return err
		}

		if order.CouponID != nil {
			err := tx.IncrementCouponUsage(ctx, *order.CouponID)
			if errors.Is(err, repository.ErrCouponExhausted) {
				ve := &ValidationError{}
				ve.add("coupon_code", "has reached its usage limit")
				return ve
			}
			if err != nil {
				return err
			}
		}

		return tx.InsertOutboxEvent(ctx, domain.TopicOrderEvents, strconv.FormatInt(order.ID, 10), domain.EventOrderPlaced,
			domain.OrderPlacedEvent{
				OrderID:   order.ID,
				PaymentID: pay.ID,
				OwnerID:   order.OwnerID,
				Total:     order.Total.StringFixed(2),
				Currency:  order.Currency,
				PlacedAt:  order.CreatedAt,
			})
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Int64("payment.id", pay.ID))
	s.log.InfoContext(ctx, "order placed",
		"order_id", order.ID, "payment_id", pay.ID, "reference", pay.TransactionReference, "total", order.Total.String())

	res := &Result{Order: order, Payment: pay}
	// the request may already be cancelled; the committed order is not
	postCtx := context.WithoutCancel(ctx)
	for _, step := range s.afterCommit(sess) {
		if stepErr := step.run(postCtx); stepErr != nil {
			s.log.ErrorContext(ctx, "post-commit step failed", "step", step.name, "order_id", order.ID, "error", stepErr)
			res.Deferred = append(res.Deferred, fmt.Errorf("%s: %w", step.name, stepErr))
		}
	}
	return res, nil
}

func (s *Service) afterCommit(sess *domain.CheckoutSession) []postCommit {
	cartKey, token := sess.CartKey(), sess.Token
	return []postCommit{
		{name: "clear cart", run: func(ctx context.Context) error { return s.carts.Clear(ctx, cartKey) }},
		{name: "delete checkout session", run: func(ctx context.Context) error { return s.sessions.DeleteSession(ctx, token) }},
	}
}

// draftOrder snapshots the addresses with their reference data resolved now,
// so later edits to countries or states never alter a placed order.
func (s *Service) draftOrder(ctx context.Context, sess *domain.CheckoutSession, opts ProceedOptions) *domain.Order {
	billing, delivery := *sess.BillingAddress, *sess.DeliveryAddress
	s.embedGeo(ctx, &billing)
	s.embedGeo(ctx, &delivery)

	method := opts.DeliveryMethod
	if method == "" {
		method = defaultDeliveryMethod
	}

	return &domain.Order{
		OwnerID:         sess.OwnerID,
		StoreID:         opts.StoreID,
		FullName:        delivery.FullName,
		Email:           delivery.Email,
		Phone:           delivery.Phone,
		DeliveryMethod:  method,
		BillingAddress:  &billing,
		DeliveryAddress: &delivery,
		Status:          domain.OrderStatusPending,
		CouponID:        sess.CouponID,
		CouponCode:      sess.CouponCode,
		Subtotal:        sess.Subtotal,
		Discount:        sess.Discount,
		Tax:             sess.Tax,
		Shipping:        sess.Shipping,
		Total:           sess.Total,
		Currency:        s.opts.Currency,
		Metadata:        opts.Metadata,
	}
}

func (s *Service) draftPayment(order *domain.Order, sess *domain.CheckoutSession, opts ProceedOptions) *domain.Payment {
	payer := sess.BillingAddress
	return &domain.Payment{
		OwnerID:              sess.OwnerID,
		FullName:             payer.FullName,
		Email:                payer.Email,
		Phone:                payer.Phone,
		PaymentGatewayID:     *sess.PaymentGatewayID,
		Amount:               order.Total,
		Currency:             s.opts.Currency,
		Description:          fmt.Sprintf("Payment for order #%d", order.ID),
		TransactionReference: newReference(),
		Status:               domain.PaymentStatusPending,
		CallbackURL:          opts.CallbackURL,
		CancelURL:            opts.CancelURL,
		Metadata:             paymentMetadata(order, sess, opts),
	}
}

func paymentMetadata(order *domain.Order, sess *domain.CheckoutSession, opts ProceedOptions) map[string]any {
	meta := map[string]any{
		"order_id":                 order.ID,
		"session_id":               sess.ID,
		domain.MetadataAccessToken: uuid.NewString(),
	}
	if opts.ReturnURL != nil && *opts.ReturnURL != "" {
		meta[domain.MetadataReturnURL] = *opts.ReturnURL
	}
	return meta
}

func orderItems(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderItem{
			ItemID:    it.ItemID,
			Kind:      it.Kind,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Total:     it.LineTotal(),
			Options:   it.Options,
		})
	}
	return out
}

// newReference is always generated here; client-supplied references are never used.
func newReference() string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
