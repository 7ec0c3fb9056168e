package conn

import (
	"sort"
	"sync"
	"time"

	"github.com/abcdlsj/tele/internal/pipe"
)

type entry struct {
	h    *pipe.Handle
	name string
	t    time.Time
}

// Info describes a live pipe for the admin endpoint.
type Info struct {
	ID    string    `json:"id"`
	Kind  string    `json:"kind"`
	Name  string    `json:"name"`
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

// HandleMap tracks live pipes by id. A pipe leaves the map by itself once
// its Done channel closes.
type HandleMap struct {
	handles map[string]entry
	mu      sync.RWMutex
}

func NewHandleMap() *HandleMap {
	return &HandleMap{
		handles: make(map[string]entry),
	}
}

func (c *HandleMap) Add(name string, h *pipe.Handle) {
	select {
	case <-h.Done():
		return
	default:
	}

	c.mu.Lock()
	c.handles[h.ID()] = entry{
		h:    h,
		name: name,
		t:    time.Now(),
	}
	c.mu.Unlock()

	go func() {
		<-h.Done()
		c.Del(h.ID())
	}()
}

func (c *HandleMap) Get(id string) (*pipe.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.handles[id]
	return e.h, ok
}

func (c *HandleMap) Del(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, id)
}

func (c *HandleMap) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// List returns the live pipes, oldest first.
func (c *HandleMap) List() []Info {
	c.mu.RLock()
	infos := make([]Info, 0, len(c.handles))
	for _, e := range c.handles {
		infos = append(infos, Info{
			ID:    e.h.ID(),
			Kind:  e.h.Kind(),
			Name:  e.name,
			State: e.h.State().String(),
			Since: e.t,
		})
	}
	c.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Since.Before(infos[j].Since)
	})
	return infos
}

// CloseAll closes every tracked pipe and waits for their teardown.
func (c *HandleMap) CloseAll() {
	c.mu.RLock()
	hs := make([]*pipe.Handle, 0, len(c.handles))
	for _, e := range c.handles {
		hs = append(hs, e.h)
	}
	c.mu.RUnlock()

	for _, h := range hs {
		h.Close()
	}
	for _, h := range hs {
		<-h.Done()
	}
}
