package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
)

// AddressIssuer hands out a payment address that was never returned before.
type AddressIssuer interface {
	IssueAddress(ctx context.Context) (string, error)
}

// Notifier is told about every order after it has been committed.
type Notifier interface {
	OrderCreated(ctx context.Context, o Order) error
}

// Observer receives workflow counters.
type Observer interface {
	OrderCreated()
	CreateFailed(kind string)
	AddressUnreconciled()
	NotificationFailed()
}

type NumberGenerator interface {
	NextOrderNumber() (string, error)
}

// UUIDNumbers generates 32-character order numbers from random UUIDs.
type UUIDNumbers struct{}

func (UUIDNumbers) NextOrderNumber() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")), nil
}

// Failure kinds reported to Observer.CreateFailed.
const (
	KindValidation      = "validation"
	KindPricing         = "pricing"
	KindPaymentIssuance = "payment_issuance"
	KindPersistence     = "persistence"
)

var orderNumberPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Service struct {
	repo     Repository
	issuer   AddressIssuer
	notifier Notifier
	observer Observer
	numbers  NumberGenerator
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithNumberGenerator(g NumberGenerator) Option {
	return func(s *Service) { s.numbers = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, issuer AddressIssuer, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		issuer:   issuer,
		notifier: nopNotifier{},
		observer: nopObserver{},
		numbers:  UUIDNumbers{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder prices the submission, takes a payment address from the wallet and
// persists the order on behalf of caller. Validation and pricing complete before
// the wallet is contacted, so a rejected submission never consumes an address.
func (s *Service) CreateOrder(ctx context.Context, sub Submission, caller auth.Identity) (*Order, error) {
	if caller.Username == "" {
		return nil, fmt.Errorf("%w: caller is not authenticated", ErrForbidden)
	}

	if err := validateSubmission(sub); err != nil {
		log.Warn().Err(err).Str("owner", caller.Username).Msg("service: rejected order submission")
		s.observer.CreateFailed(KindValidation)
		return nil, err
	}

	o := &Order{
		OrderNumber:  sub.OrderNumber,
		OrderDate:    s.resolveDate(sub.OrderDate),
		Owner:        caller.Username,
		Items:        append([]OrderItem(nil), sub.Items...),
		ExchangeRate: sub.ExchangeRate,
	}
	for i := range o.Items {
		o.Items[i].ID = 0
	}

	o.TotalFiat = ComputeSubtotal(o.Items)

	totalCrypto, err := ComputeCryptoTotal(o.TotalFiat, o.ExchangeRate)
	if err != nil {
		log.Warn().Err(err).Str("owner", o.Owner).Stringer("exchange_rate", o.ExchangeRate).Msg("service: order cannot be priced")
		s.observer.CreateFailed(KindPricing)
		return nil, err
	}
	if !totalCrypto.IsPositive() {
		err := &PricingError{Reason: "order total rounds to zero in crypto units"}
		log.Warn().Err(err).Str("owner", o.Owner).Stringer("total_fiat", o.TotalFiat).Msg("service: order cannot be priced")
		s.observer.CreateFailed(KindPricing)
		return nil, err
	}
	o.TotalCrypto = totalCrypto

	if o.OrderNumber == "" {
		number, err := s.numbers.NextOrderNumber()
		if err != nil {
			log.Error().Err(err).Msg("service: failed to generate order number")
			s.observer.CreateFailed(KindPersistence)
			return nil, &PersistenceError{Op: "allocate order number", Err: err}
		}
		o.OrderNumber = number
	}

	address, err := s.issuer.IssueAddress(ctx)
	if err == nil && address == "" {
		err = errors.New("wallet returned an empty address")
	}
	if err != nil {
		log.Error().Err(err).Str("order_number", o.OrderNumber).Str("owner", o.Owner).Msg("service: failed to issue payment address")
		s.observer.CreateFailed(KindPaymentIssuance)
		return nil, fmt.Errorf("%w: %w", ErrPaymentIssuance, err)
	}
	o.PaymentAddress = address

	uow := s.repo.NewUnitOfWork()
	uow.AddOrder(o)
	saved, err := uow.SaveAll(ctx)
	if err != nil || !saved {
		if err == nil {
			err = errNotSaved
		}
		logUnreconciled(o, err)
		s.observer.CreateFailed(KindPersistence)
		s.observer.AddressUnreconciled()
		return nil, &PersistenceError{
			Op:             "save order",
			AddressIssued:  true,
			PaymentAddress: o.PaymentAddress,
			OrderNumber:    o.OrderNumber,
			Err:            err,
		}
	}

	s.observer.OrderCreated()
	log.Info().
		Int64("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Str("owner", o.Owner).
		Stringer("total_fiat", o.TotalFiat).
		Stringer("total_crypto", o.TotalCrypto).
		Msg("service: order created")

	if err := s.notifier.OrderCreated(ctx, *o); err != nil {
		log.Warn().Err(err).Str("order_number", o.OrderNumber).Msg("service: failed to publish order created event")
		s.observer.NotificationFailed()
	}

	return o, nil
}

func (s *Service) resolveDate(t time.Time) time.Time {
	if t.IsZero() || t.Equal(time.Unix(0, 0)) {
		return s.now().UTC()
	}
	return t
}

// Amounts are stored as NUMERIC and quantities as INT, so anything outside these
// bounds is rejected before an address is issued for it.
const (
	maxQuantity    = math.MaxInt32
	maxAmountScale = 8
)

var maxAmount = decimal.New(1, 18)

func amountOutOfRange(d decimal.Decimal) bool {
	if d.Exponent() < -maxAmountScale && !d.Equal(d.Truncate(maxAmountScale)) {
		return true
	}
	return d.Abs().GreaterThanOrEqual(maxAmount)
}

func validateSubmission(sub Submission) error {
	if sub.OrderNumber != "" && !orderNumberPattern.MatchString(sub.OrderNumber) {
		return &ValidationError{Rule: "order number must be 1-64 letters, digits, '-' or '_'"}
	}
	if len(sub.Items) == 0 {
		return &ValidationError{Rule: "order must contain at least one item"}
	}
	for i, item := range sub.Items {
		if item.ProductID <= 0 {
			return &ValidationError{Rule: fmt.Sprintf("item %d: product id must be positive", i+1)}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Rule: fmt.Sprintf("item %d: quantity must be greater than zero", i+1)}
		}
		if item.Quantity > maxQuantity {
			return &ValidationError{Rule: fmt.Sprintf("item %d: quantity must not exceed %d", i+1, maxQuantity)}
		}
		if item.UnitPrice.IsNegative() {
			return &ValidationError{Rule: fmt.Sprintf("item %d: unit price cannot be negative", i+1)}
		}
		if amountOutOfRange(item.UnitPrice) {
			return &ValidationError{Rule: fmt.Sprintf("item %d: unit price must be below 10^18 with at most %d decimal places", i+1, maxAmountScale)}
		}
	}
	if amountOutOfRange(sub.ExchangeRate) {
		return &ValidationError{Rule: fmt.Sprintf("exchange rate must be below 10^18 with at most %d decimal places", maxAmountScale)}
	}
	return nil
}

// logUnreconciled records everything needed to match an orphaned payment
// address to the order that was meant to own it.
func logUnreconciled(o *Order, err error) {
	items := zerolog.Arr()
	for _, item := range o.Items {
		items.Dict(zerolog.Dict().
			Int64("product_id", item.ProductID).
			Int("quantity", item.Quantity).
			Stringer("unit_price", item.UnitPrice))
	}

	log.Error().
		Err(err).
		Bool("reconcile", true).
		Str("payment_address", o.PaymentAddress).
		Str("order_number", o.OrderNumber).
		Str("owner", o.Owner).
		Time("order_date", o.OrderDate).
		Stringer("exchange_rate", o.ExchangeRate).
		Stringer("total_fiat", o.TotalFiat).
		Stringer("total_crypto", o.TotalCrypto).
		Array("items", items).
		Msg("service: payment address issued but order not persisted")
}

type nopNotifier struct{}

func (nopNotifier) OrderCreated(context.Context, Order) error { return nil }

type nopObserver struct{}

func (nopObserver) OrderCreated()        {}
func (nopObserver) CreateFailed(string)  {}
func (nopObserver) AddressUnreconciled() {}
func (nopObserver) NotificationFailed()  {}
