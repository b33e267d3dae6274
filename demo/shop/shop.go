// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package shop is a small application loaded into the runtime by
//
//	otel-live serve --config demo/agent.yaml --classes demo/shop
package shop

import (
	"context"
	"errors"
)

type Service interface {
	Checkout(ctx context.Context, id string) error
}

type Base struct {
	items []string
}

func (b *Base) Add(item string) { b.items = append(b.items, item) }

func (b *Base) Clear() { b.items = nil }

type Cart struct {
	Base
}

var _ Service = (*Cart)(nil)

func (c *Cart) Checkout(ctx context.Context, id string) error {
	if len(c.items) == 0 {
		return errors.New("empty cart")
	}
	return nil
}

type GiftCart struct {
	Cart
}

// @Trace
func (g *GiftCart) Wrap(paper string) {}
