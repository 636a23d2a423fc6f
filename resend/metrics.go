// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for the resend module. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	trackedTotal metric.Int64Counter
	resentTotal  metric.Int64Counter
	ackedTotal   metric.Int64Counter
	expiredTotal metric.Int64Counter

	pendingCurrent metric.Int64UpDownCounter
}

// NewMetrics creates a Metrics instance with all instruments initialized on
// the global meter provider.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("courier-resend"),
	}

	var err error

	m.trackedTotal, err = m.meter.Int64Counter(
		"courier.resend.tracked.total",
		metric.WithDescription("Total messages registered for acknowledgment tracking"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trackedTotal counter: %w", err)
	}

	m.resentTotal, err = m.meter.Int64Counter(
		"courier.resend.resent.total",
		metric.WithDescription("Total message retransmissions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resentTotal counter: %w", err)
	}

	m.ackedTotal, err = m.meter.Int64Counter(
		"courier.resend.acked.total",
		metric.WithDescription("Total tracked messages acknowledged by the peer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ackedTotal counter: %w", err)
	}

	m.expiredTotal, err = m.meter.Int64Counter(
		"courier.resend.expired.total",
		metric.WithDescription("Total tracked messages dropped after exhausting the retry budget"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create expiredTotal counter: %w", err)
	}

	m.pendingCurrent, err = m.meter.Int64UpDownCounter(
		"courier.resend.pending.current",
		metric.WithDescription("Current number of messages awaiting acknowledgment"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pendingCurrent counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordTracked(ctx context.Context) {
	if m == nil {
		return
	}
	m.trackedTotal.Add(ctx, 1)
	m.pendingCurrent.Add(ctx, 1)
}

func (m *Metrics) recordResent(ctx context.Context) {
	if m == nil {
		return
	}
	m.resentTotal.Add(ctx, 1)
}

func (m *Metrics) recordAcked(ctx context.Context) {
	if m == nil {
		return
	}
	m.ackedTotal.Add(ctx, 1)
	m.pendingCurrent.Add(ctx, -1)
}

func (m *Metrics) recordExpired(ctx context.Context) {
	if m == nil {
		return
	}
	m.expiredTotal.Add(ctx, 1)
	m.pendingCurrent.Add(ctx, -1)
}
