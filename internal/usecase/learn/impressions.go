package learn

import (
	"container/list"
	"sync"
	"time"

	"github.com/lumatv/nextup/internal/domain"
	"github.com/lumatv/nextup/internal/usecase/refine"
)

// Impression is the snapshot recorded when a recommendation is served,
// so later feedback can be attributed to the state that produced it.
type Impression struct {
	State      domain.UserState
	ContentID  string
	Genres     []string
	Embedding  []float32
	Similarity float64
	Rank       int

	// Refinement attribution, set when the serving request was refined.
	Refined        bool
	RefineState    string
	RefineAction   refine.Action
	RelevanceDelta float64

	At time.Time
}

// ImpressionCache is a bounded LRU keyed by (user, content). Recommend
// writes, the learning loop reads; both sides touch it concurrently.
type ImpressionCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	imp Impression
}

// NewImpressionCache creates a cache bounded to capacity entries.
func NewImpressionCache(capacity int) *ImpressionCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ImpressionCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func impressionKey(userID, contentID string) string {
	return userID + "\x00" + contentID
}

// Put records an impression, evicting the least recently used entry when
// full. A repeat impression for the same pair replaces the old one.
func (c *ImpressionCache) Put(imp Impression) {
	key := impressionKey(imp.State.UserID, imp.ContentID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).imp = imp
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, imp: imp})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Get returns the impression for a (user, content) pair and refreshes its
// recency. Entries stay cached: one impression can attribute several
// events (clicked, then completed).
func (c *ImpressionCache) Get(userID, contentID string) (Impression, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[impressionKey(userID, contentID)]
	if !ok {
		return Impression{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).imp, true
}

// Len returns the number of cached impressions.
func (c *ImpressionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
