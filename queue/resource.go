package queue

import "sync"

// ResourceController tracks which named resources are currently held,
// and vetoes block evaluation for items whose task needs a resource
// someone else holds (§4.4, §5 shared-resource policy). The queue
// calls Reserve when it moves an item from buildable to pending and
// Release when that item's main work unit is picked up or reclaimed;
// Conflicts answers "is there a conflict right now".
type ResourceController struct {
	mu    sync.RWMutex
	inUse map[string]int // resource name -> number of holders
}

// NewResourceController returns an empty controller: no resources held.
func NewResourceController() *ResourceController {
	return &ResourceController{inUse: make(map[string]int)}
}

// Conflicts reports whether any of the given resources is currently
// held.
func (c *ResourceController) Conflicts(resources []string) bool {
	if len(resources) == 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range resources {
		if c.inUse[r] > 0 {
			return true
		}
	}
	return false
}

// Reserve marks the given resources as held. Called when an item
// leaves buildable for pending.
func (c *ResourceController) Reserve(resources []string) {
	if len(resources) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range resources {
		c.inUse[r]++
	}
}

// Release marks the given resources as no longer held. Called when a
// pending item's work unit is picked up (resources transfer to the
// executor's own accounting) or when the item is abandoned.
func (c *ResourceController) Release(resources []string) {
	if len(resources) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range resources {
		if c.inUse[r] > 0 {
			c.inUse[r]--
		}
	}
}
