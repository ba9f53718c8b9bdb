package api

import "github.com/ridgeci/ridgeline/queue"

// httpNode represents a remote node whose only contact with the queue
// is polling /executor/pop; it accepts anything handed to it and never
// supports the flyweight direct-placement path (it has no way to run
// work outside of an assigned WorkUnit).
type httpNode struct {
	id   string
	execs int
}

func (n *httpNode) ID() string                          { return n.id }
func (n *httpNode) NumExecutors() int                    { return n.execs }
func (n *httpNode) Online() bool                         { return true }
func (n *httpNode) AcceptingTasks() bool                 { return true }
func (n *httpNode) CanTake(item queue.Item) *queue.Cause { return nil }
func (n *httpNode) StartFlyweightTask(item queue.Item) bool { return false }

// httpExecutor adapts one /executor/pop request into a queue.Executor;
// it is never a one-off and never carries a preassigned work unit.
type httpExecutor struct {
	node *httpNode
}

func newHTTPExecutor(nodeID string, numExecutors int) *httpExecutor {
	if numExecutors < 1 {
		numExecutors = 1
	}
	return &httpExecutor{node: &httpNode{id: nodeID, execs: numExecutors}}
}

func (e *httpExecutor) Node() queue.Node                             { return e.node }
func (e *httpExecutor) IsOneOff() bool                                { return false }
func (e *httpExecutor) PreassignedWorkUnit() (queue.WorkUnit, bool) { return queue.WorkUnit{}, false }
