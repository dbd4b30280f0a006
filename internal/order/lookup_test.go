package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

func TestLookup_GetByNumber(t *testing.T) {
	root := auth.Identity{Username: "root"}

	tests := []struct {
		name    string
		caller  auth.Caller
		number  string
		setup   func(repo *MockRepository)
		want    string
		wantErr error
	}{
		{
			name:   "admin_found",
			caller: admin("root"),
			number: "C",
			setup: func(repo *MockRepository) {
				o := orderC
				repo.On("GetOrderByNumber", mock.Anything, "C").Return(&o, nil).Once()
			},
			want: "C",
		},
		{
			name:   "admin_missing",
			caller: admin("root"),
			number: "NOPE",
			setup: func(repo *MockRepository) {
				repo.On("GetOrderByNumber", mock.Anything, "NOPE").Return(nil, order.ErrNotFound).Once()
			},
			wantErr: order.ErrNotFound,
		},
		{
			name:    "admin_malformed_number",
			caller:  admin("root"),
			number:  "not a number!",
			setup:   func(repo *MockRepository) {},
			wantErr: order.ErrNotFound,
		},
		{
			name:   "admin_repository_failure",
			caller: admin("root"),
			number: "C",
			setup: func(repo *MockRepository) {
				repo.On("GetOrderByNumber", mock.Anything, "C").Return(nil, errors.New("timeout")).Once()
			},
			wantErr: order.ErrPersistence,
		},
		{
			name:    "customer_forbidden",
			caller:  customer("root"),
			number:  "C",
			setup:   func(repo *MockRepository) {},
			wantErr: order.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			gate := new(MockGate)
			gate.On("Resolve", mock.Anything, root).Return(tt.caller, nil).Once()
			tt.setup(repo)

			got, err := order.NewLookup(repo, gate).GetByNumber(context.Background(), root, tt.number)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.OrderNumber)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestLookup_GetByNumber_NotFoundIsDistinctFromForbidden(t *testing.T) {
	repo := new(MockRepository)
	gate := new(MockGate)
	gate.On("Resolve", mock.Anything, alice).Return(customer("alice"), nil).Once()

	_, err := order.NewLookup(repo, gate).GetByNumber(context.Background(), alice, "A")
	assert.ErrorIs(t, err, order.ErrForbidden)
	assert.NotErrorIs(t, err, order.ErrNotFound)
	repo.AssertNotCalled(t, "GetOrderByNumber", mock.Anything, mock.Anything)
}

func TestLookup_GetByID_ScopesCustomerToOwnOrders(t *testing.T) {
	repo := new(MockRepository)
	gate := new(MockGate)
	gate.On("Resolve", mock.Anything, alice).Return(customer("alice"), nil).Twice()

	own := orderA
	repo.On("GetOrderByID", mock.Anything, "alice", int64(1)).Return(&own, nil).Once()
	repo.On("GetOrderByID", mock.Anything, "alice", int64(3)).Return(nil, order.ErrNotFound).Once()

	lookup := order.NewLookup(repo, gate)

	got, err := lookup.GetByID(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", got.OrderNumber)

	got, err = lookup.GetByID(context.Background(), alice, 3)
	assert.ErrorIs(t, err, order.ErrNotFound)
	assert.Nil(t, got)

	repo.AssertExpectations(t)
}

func TestLookup_GetByID_AdminIgnoresOwner(t *testing.T) {
	repo := new(MockRepository)
	gate := new(MockGate)
	root := auth.Identity{Username: "root"}
	gate.On("Resolve", mock.Anything, root).Return(admin("root"), nil).Once()

	other := orderC
	repo.On("GetOrderByID", mock.Anything, order.AnyOwner, int64(3)).Return(&other, nil).Once()

	got, err := order.NewLookup(repo, gate).GetByID(context.Background(), root, 3)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Owner)
	repo.AssertExpectations(t)
}

func TestLookup_GetByID_InvalidID(t *testing.T) {
	repo := new(MockRepository)
	gate := new(MockGate)
	gate.On("Resolve", mock.Anything, alice).Return(customer("alice"), nil).Once()

	_, err := order.NewLookup(repo, gate).GetByID(context.Background(), alice, 0)
	assert.ErrorIs(t, err, order.ErrNotFound)
	repo.AssertNotCalled(t, "GetOrderByID", mock.Anything, mock.Anything, mock.Anything)
}
