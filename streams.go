package h2client

import (
	"sort"
	"sync"
)

// Streams is a mutex-protected, id-ordered registry of live streams for one
// connection.
type Streams struct {
	mu   sync.RWMutex
	list []*Stream
}

func (strms *Streams) Insert(s *Stream) {
	strms.mu.Lock()
	defer strms.mu.Unlock()

	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= s.id
	})

	if i == len(strms.list) {
		strms.list = append(strms.list, s)
		return
	}

	strms.list = append(strms.list, nil)
	copy(strms.list[i+1:], strms.list[i:])
	strms.list[i] = s
}

func (strms *Streams) Del(id uint32) *Stream {
	strms.mu.Lock()
	defer strms.mu.Unlock()

	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= id
	})

	if i < len(strms.list) && strms.list[i].id == id {
		strm := strms.list[i]
		strms.list = append(strms.list[:i], strms.list[i+1:]...)
		return strm
	}

	return nil
}

func (strms *Streams) Get(id uint32) *Stream {
	strms.mu.RLock()
	defer strms.mu.RUnlock()

	i := sort.Search(len(strms.list), func(i int) bool {
		return strms.list[i].id >= id
	})
	if i < len(strms.list) && strms.list[i].id == id {
		return strms.list[i]
	}

	return nil
}

// Len returns the number of streams currently tracked.
func (strms *Streams) Len() int {
	strms.mu.RLock()
	defer strms.mu.RUnlock()
	return len(strms.list)
}

// Range calls fn for every tracked stream in ascending id order, stopping
// early if fn returns false.
func (strms *Streams) Range(fn func(*Stream) bool) {
	strms.mu.RLock()
	list := append([]*Stream(nil), strms.list...)
	strms.mu.RUnlock()

	for _, s := range list {
		if !fn(s) {
			return
		}
	}
}
