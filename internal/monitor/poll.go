package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/liamashdown/tiltguard/internal/platform"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/sirupsen/logrus"
)

func checkpointKey(subject string) string {
	return "poll:" + subject + ":last_ts"
}

// Poll fetches new bets for each subject from src and ingests them. Each
// subject's checkpoint only advances past bets that were handled. It returns
// the number of bets accepted.
func (m *Monitor) Poll(ctx context.Context, src BetSource, subjects []string) (int, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)

	for _, subject := range subjects {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()

			select {
			case <-m.workerPool:
			case <-ctx.Done():
				return
			}
			defer func() { m.workerPool <- struct{}{} }()

			n, err := m.pollSubject(ctx, src, subject)

			mu.Lock()
			accepted += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", subject, err))
			}
			mu.Unlock()
		}(subject)
	}
	wg.Wait()

	return accepted, errors.Join(errs...)
}

// cursor is a subject's poll position: the newest placedAt handled and the
// ids of the bets handled at exactly that instant. Bets sharing the last
// timestamp can arrive on a later poll, so the fetch is inclusive and the ids
// keep them from being ingested twice.
type cursor struct {
	TS  int64    `json:"ts"`
	IDs []string `json:"ids,omitempty"`
}

func (c cursor) seen(b platform.Bet) bool {
	if b.PlacedAt < c.TS {
		return true
	}
	if b.PlacedAt > c.TS {
		return false
	}
	for _, id := range c.IDs {
		if id == b.ID {
			return true
		}
	}
	return false
}

func (c *cursor) advance(b platform.Bet) {
	if b.PlacedAt > c.TS {
		c.TS = b.PlacedAt
		c.IDs = []string{b.ID}
		return
	}
	c.IDs = append(c.IDs, b.ID)
}

func (m *Monitor) pollSubject(ctx context.Context, src BetSource, subject string) (int, error) {
	// Per-subject lock so overlapping ticks never double-ingest
	lockVal, _ := m.pollLocks.LoadOrStore(subject, &sync.Mutex{})
	lock := lockVal.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	cur, err := m.checkpoint(ctx, subject)
	if err != nil {
		return 0, fmt.Errorf("get checkpoint: %w", err)
	}
	since := cur.TS

	bets, err := src.GetBets(ctx, platform.BetParams{User: subject, Since: since})
	if err != nil {
		return 0, fmt.Errorf("fetch bets: %w", err)
	}

	accepted, handled := 0, 0
	for _, b := range bets {
		if cur.seen(b) {
			continue
		}
		_, err := m.LogEvent(ctx, subject, b.RawEvent())
		if errors.Is(err, tilt.ErrSessionExported) {
			// Leave the checkpoint so the bets are picked up after a reset
			break
		}
		if err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{
				"subject": subject,
				"bet_id":  b.ID,
			}).Warn("Skipping invalid bet")
		} else {
			accepted++
		}
		handled++
		cur.advance(b)
	}

	if handled > 0 {
		if err := m.setCheckpoint(ctx, subject, cur); err != nil {
			return accepted, fmt.Errorf("update checkpoint: %w", err)
		}
		m.log.WithFields(logrus.Fields{
			"subject":  subject,
			"fetched":  len(bets),
			"accepted": accepted,
			"since":    since,
		}).Info("Polled platform bets")
	}

	return accepted, nil
}

func (m *Monitor) checkpoint(ctx context.Context, subject string) (cursor, error) {
	if m.store == nil {
		if v, ok := m.checkpoints.Load(subject); ok {
			return v.(cursor), nil
		}
		return cursor{}, nil
	}

	value, err := m.store.GetState(ctx, checkpointKey(subject))
	if err != nil || value == "" {
		return cursor{}, err
	}

	// checkpoints written before ids were tracked hold a bare timestamp
	if ts, err := strconv.ParseInt(value, 10, 64); err == nil {
		return cursor{TS: ts}, nil
	}

	var cur cursor
	if err := json.Unmarshal([]byte(value), &cur); err != nil {
		return cursor{}, fmt.Errorf("parse checkpoint %q: %w", value, err)
	}
	return cur, nil
}

func (m *Monitor) setCheckpoint(ctx context.Context, subject string, cur cursor) error {
	if m.store == nil {
		m.checkpoints.Store(subject, cur)
		return nil
	}

	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	return m.store.SetState(ctx, checkpointKey(subject), string(data))
}
