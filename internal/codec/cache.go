package codec

import (
	"container/list"
	"image"
	"sync"
)

// Cache keeps the most recently decoded images in memory.
type Cache struct {
	dec      Decoder
	capacity int

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	path string
	img  image.Image
}

// NewCache wraps dec, holding at most capacity images.
func NewCache(dec Decoder, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{dec: dec, capacity: capacity, order: list.New(), items: map[string]*list.Element{}}
}

func (c *Cache) Decode(path string) (image.Image, error) {
	c.mu.Lock()
	if el, ok := c.items[path]; ok {
		c.order.MoveToFront(el)
		img := el.Value.(*cacheEntry).img
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	img, err := c.dec.Decode(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		return el.Value.(*cacheEntry).img, nil
	}
	c.items[path] = c.order.PushFront(&cacheEntry{path: path, img: img})
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.items, last.Value.(*cacheEntry).path)
	}
	return img, nil
}

// Len returns the number of cached images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
