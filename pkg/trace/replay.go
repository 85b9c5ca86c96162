package trace

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/classtap/pkg/capture"
	"github.com/odvcencio/classtap/pkg/store"
)

// Summary counts what a replay did, beyond what the statistics report.
type Summary struct {
	Delivered   int
	Conflicts   int
	WriteErrors int
	SinkErrors  int
	Violations  int
}

// Run delivers events to c from up to concurrency goroutines (1 keeps trace
// order). It stops at the first fatal error, which it returns.
func Run(ctx context.Context, c *capture.Capturer, events []capture.Event, concurrency int) (Summary, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var delivered, conflicts, writeErrs, sinkErrs, violations atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range events {
		if ctx.Err() != nil {
			break
		}
		ev := events[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := c.Capture(ev)
			if err != nil {
				return fmt.Errorf("event %d (%s): %w", i, ev.Name, err)
			}
			delivered.Add(1)
			if res.Write.Outcome == store.Conflict {
				conflicts.Add(1)
			}
			if res.WriteErr != nil {
				writeErrs.Add(1)
			}
			if res.SinkErr != nil {
				sinkErrs.Add(1)
			}
			if res.StatsErr != nil {
				violations.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	return Summary{
		Delivered:   int(delivered.Load()),
		Conflicts:   int(conflicts.Load()),
		WriteErrors: int(writeErrs.Load()),
		SinkErrors:  int(sinkErrs.Load()),
		Violations:  int(violations.Load()),
	}, err
}
