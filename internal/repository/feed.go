package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Feed fans out write notifications so read-heavy consumers can subscribe
// to query results instead of polling. Notifications carry no payload;
// subscribers re-run their query.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan struct{}]struct{})}
}

func (f *Feed) register(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().After("gorm:create").Register("careplanner:feed_create", f.afterWrite); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("careplanner:feed_update", f.afterWrite); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("careplanner:feed_delete", f.afterWrite); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("careplanner:feed_raw", f.afterWrite)
}

func (f *Feed) afterWrite(tx *gorm.DB) {
	if tx.Error != nil || tx.Statement.RowsAffected == 0 {
		return
	}
	// Raw statements have no model; wake everyone.
	f.notify(tx.Statement.Table)
}

func (f *Feed) notify(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, chans := range f.subs {
		if table != "" && name != table {
			continue
		}
		for ch := range chans {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

// watch returns a coalescing signal channel for table and a func to release it.
func (f *Feed) watch(table string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	if f.subs[table] == nil {
		f.subs[table] = make(map[chan struct{}]struct{})
	}
	f.subs[table][ch] = struct{}{}
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs[table], ch)
		f.mu.Unlock()
	}
}
