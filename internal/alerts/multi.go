package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiSender fans an alert out to several destinations
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delivers to every sender concurrently so a throttled webhook does not
// delay email or log delivery. Errors are joined in sender order.
func (s *MultiSender) Send(ctx context.Context, payload *AlertPayload) error {
	errs := make([]error, len(s.senders))

	var wg sync.WaitGroup
	for i, sender := range s.senders {
		wg.Add(1)
		go func(i int, sender Sender) {
			defer wg.Done()
			if err := sender.Send(ctx, payload); err != nil {
				errs[i] = fmt.Errorf("sender %d (%T): %w", i, sender, err)
			}
		}(i, sender)
	}
	wg.Wait()

	return errors.Join(errs...)
}
