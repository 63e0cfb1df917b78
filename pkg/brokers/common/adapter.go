// Package common is the contract between the router and concrete broker
// adapters. Wire formats of individual brokers stay inside their adapters.
package common

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("broker not connected")

// Adapter abstracts a broker account.
type Adapter interface {
	Name() string
	IsConnected() bool
	Connect(ctx context.Context) error
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Closer is implemented by adapters holding resources beyond the call.
type Closer interface {
	Close() error
}
