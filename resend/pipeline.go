// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import (
	"log/slog"
	"sync"
	"time"
)

// pipeline schedules retransmissions. Admitted entries wait out the resend
// interval concurrently, each racing its own cancellation; survivors are
// handed one at a time to the resend stage.
//
// The hand-off channel has no consumer until a link is connected, so work
// admitted before the session is established queues here and drains once
// the link exists.
type pipeline struct {
	interval time.Duration
	resendCh chan *pendingSend
	logger   *slog.Logger
}

func newPipeline(interval time.Duration, logger *slog.Logger) *pipeline {
	return &pipeline{
		interval: interval,
		resendCh: make(chan *pendingSend),
		logger:   logger,
	}
}

// admit schedules a retransmission for the entry. The caller is never
// blocked on timing or transmission.
func (p *pipeline) admit(entry *pendingSend) {
	go p.wait(entry)
}

// wait suspends until the entry's deadline or its cancellation, whichever
// comes first, then hands the entry to the resend stage. Cancellation at
// either point drops the entry silently: it is the normal path when an
// acknowledgment arrives before the timer elapses. Any other failure is
// logged and drops the entry without taking the pipeline down.
func (p *pipeline) wait(entry *pendingSend) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("retry wait failed",
				slog.String("key", entry.key.String()),
				slog.Any("panic", r),
			)
		}
	}()

	if d := time.Until(entry.deadline(p.interval)); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-entry.done():
			return
		}
	}

	select {
	case p.resendCh <- entry:
	case <-entry.done():
	}
}

// link is the dynamic connection between the wait stage and the resend
// stage. Closing it detaches the resend stage; waiting entries then park on
// the hand-off until a new link is connected.
type link struct {
	stop chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.stop)
	})
}

// connect attaches a resend stage to the pipeline: a single consumer, so at
// most one retransmission is in flight at a time. Entries cancelled while
// queued are skipped.
func (p *pipeline) connect(send func(*pendingSend)) *link {
	l := &link{stop: make(chan struct{})}
	go func() {
		for {
			select {
			case <-l.stop:
				return
			case entry := <-p.resendCh:
				select {
				case <-entry.done():
					continue
				default:
				}
				send(entry)
			}
		}
	}()
	return l
}
