package render

import (
	"container/list"
	"sync"

	"volshot/internal/models"
	"volshot/pkg/source"
)

// CacheStats counts cache activity since creation.
type CacheStats struct {
	Hits      int
	Misses    int
	Evictions int
}

type blockKey struct {
	src   source.Source
	t     int
	level int
}

type blockEntry struct {
	key   blockKey
	vol   *models.Volume
	size  int64
	frame int
}

// BlockCache keeps recently used voxel arrays within a memory budget.
// Sizes are accounted in whole blocks of blockSize³ voxels. Entries used
// during the current frame are never evicted, so that every refinement
// pass of a frame sees the data fetched by earlier passes.
type BlockCache struct {
	mu        sync.Mutex
	blockSize int
	budget    int64
	used      int64
	frame     int
	lru       *list.List
	items     map[blockKey]*list.Element
	stats     CacheStats
}

// NewBlockCache creates a cache holding at most maxMB megabytes.
func NewBlockCache(maxMB, blockSize int) *BlockCache {
	if blockSize < 1 {
		blockSize = 1
	}
	return &BlockCache{
		blockSize: blockSize,
		budget:    int64(maxMB) * 1024 * 1024,
		lru:       list.New(),
		items:     make(map[blockKey]*list.Element),
	}
}

// accountedSize rounds the volume up to whole blocks.
func (c *BlockCache) accountedSize(v *models.Volume) int64 {
	bs := c.blockSize
	blocks := int64((v.Width+bs-1)/bs) * int64((v.Height+bs-1)/bs) * int64((v.Depth+bs-1)/bs)
	return blocks * int64(bs*bs*bs) * 8
}

// Fetch returns the voxels of src at (t, level), loading them on a miss.
func (c *BlockCache) Fetch(src source.Source, t, level int) (*models.Volume, error) {
	key := blockKey{src: src, t: t, level: level}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.lru.MoveToFront(el)
		e := el.Value.(*blockEntry)
		e.frame = c.frame
		c.stats.Hits++
		c.mu.Unlock()
		return e.vol, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	vol, err := src.Voxels(t, level)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		// loaded concurrently
		c.lru.MoveToFront(el)
		return el.Value.(*blockEntry).vol, nil
	}
	e := &blockEntry{key: key, vol: vol, size: c.accountedSize(vol), frame: c.frame}
	c.items[key] = c.lru.PushFront(e)
	c.used += e.size
	c.evict(c.frame)
	return vol, nil
}

// PrepareNextFrame starts a new frame and trims the cache to its budget.
func (c *BlockCache) PrepareNextFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame++
	c.evict(c.frame)
}

// evict drops least recently used entries not touched in frame keep.
func (c *BlockCache) evict(keep int) {
	for el := c.lru.Back(); el != nil && c.used > c.budget; {
		prev := el.Prev()
		e := el.Value.(*blockEntry)
		if e.frame != keep {
			c.lru.Remove(el)
			delete(c.items, e.key)
			c.used -= e.size
			c.stats.Evictions++
		}
		el = prev
	}
}

// Len returns the number of cached arrays.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Used returns the accounted size of the cached arrays in bytes.
func (c *BlockCache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *BlockCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
