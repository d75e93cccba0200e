package repository

import (
	"context"
	"log"
)

// subscribe emits query's result once immediately and again after every
// write to table, until ctx is done. Bursts of writes collapse into one re-query.
func subscribe[T any](ctx context.Context, feed *Feed, table string, query func(context.Context) (T, error)) <-chan T {
	out := make(chan T, 1)
	if feed == nil {
		close(out)
		return out
	}
	signal, release := feed.watch(table)

	go func() {
		defer close(out)
		defer release()
		for {
			result, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[warn] subscription query on %s: %v", table, err)
			} else {
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
