package order_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetAllOrders(ctx context.Context) ([]order.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) GetOrdersByOwner(ctx context.Context, owner string, includeItems bool) ([]order.Order, error) {
	args := m.Called(ctx, owner, includeItems)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockRepository) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) GetOrderByID(ctx context.Context, owner string, id int64) (*order.Order, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) NewUnitOfWork() order.UnitOfWork {
	args := m.Called()
	return args.Get(0).(order.UnitOfWork)
}

type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) AddOrder(o *order.Order) {
	m.Called(o)
}

func (m *MockUnitOfWork) SaveAll(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) IssueAddress(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) OrderCreated(ctx context.Context, o order.Order) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Resolve(ctx context.Context, id auth.Identity) (auth.Caller, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(auth.Caller), args.Error(1)
}

type fixedNumbers string

func (n fixedNumbers) NextOrderNumber() (string, error) {
	return string(n), nil
}

type countingObserver struct {
	mu            sync.Mutex
	created       int
	failures      map[string]int
	unreconciled  int
	notifyFailure int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{failures: make(map[string]int)}
}

func (o *countingObserver) OrderCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *countingObserver) CreateFailed(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[kind]++
}

func (o *countingObserver) AddressUnreconciled() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unreconciled++
}

func (o *countingObserver) NotificationFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifyFailure++
}
