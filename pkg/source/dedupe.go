package source

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/armadaproject/botrunner/pkg/update"
)

// dedupe is a defensive bounded cache of recently seen update_ids. The
// remote protocol is assumed to be strictly monotonic, but a small LRU
// costs little and catches the case where it is not.
type dedupe struct {
	cache *lru.Cache
}

func newDedupe(size int) *dedupe {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only fails on a non-positive size, already excluded above.
		panic(err)
	}
	return &dedupe{cache: cache}
}

// filter drops any update whose id has already been seen, preserving the
// relative order of the rest.
func (d *dedupe) filter(batch update.Batch) update.Batch {
	if d == nil || len(batch) == 0 {
		return batch
	}
	out := make(update.Batch, 0, len(batch))
	for _, u := range batch {
		id := u.UpdateID()
		if _, seen := d.cache.Get(id); seen {
			continue
		}
		d.cache.Add(id, struct{}{})
		out = append(out, u)
	}
	return out
}
