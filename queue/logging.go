package queue

import (
	"encoding/json"
	"log"
	"strings"
)

// OnFault, if set, is called for every isolated-fault decision event
// (persistence I/O, a panicking extension point); it lets an outer
// package (e.g. observability) turn faults into a metric without this
// package importing a metrics library directly.
var OnFault func(component, event, reason string)

// decision is a one-line structured log record for a scheduling event,
// hand-marshaled to JSON rather than routed through a structured
// logging library (see DESIGN.md).
type decision struct {
	Component string `json:"component"`
	Event     string `json:"event"`
	TaskName  string `json:"task,omitempty"`
	ItemID    ItemID `json:"itemId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func logDecision(d decision) {
	d.Component = "queue"
	b, err := json.Marshal(d)
	if err != nil {
		log.Printf("queue: failed to marshal decision record: %v", err)
		return
	}
	log.Println(string(b))

	if strings.HasSuffix(d.Event, "_fault") && OnFault != nil {
		OnFault(d.Component, d.Event, d.Reason)
	}
}
