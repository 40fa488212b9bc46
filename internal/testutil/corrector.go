package testutil

import (
	"context"
	"sync"

	"github.com/specialistvlad/actiongrid/internal/correction"
)

// ScriptedCorrector answers correction requests from a per node script.
// Once a node's script is used up it answers abort. Every request is kept
// for inspection.
type ScriptedCorrector struct {
	mu       sync.Mutex
	scripts  map[string][]correction.Response
	requests []correction.Request
}

var _ correction.Corrector = (*ScriptedCorrector)(nil)

// NewScriptedCorrector returns a corrector with no scripts.
func NewScriptedCorrector() *ScriptedCorrector {
	return &ScriptedCorrector{scripts: make(map[string][]correction.Response)}
}

// On queues responses for failures of nodeID.
func (c *ScriptedCorrector) On(nodeID string, responses ...correction.Response) *ScriptedCorrector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[nodeID] = append(c.scripts[nodeID], responses...)
	return c
}

// Correct implements correction.Corrector.
func (c *ScriptedCorrector) Correct(_ context.Context, req correction.Request) (correction.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	script := c.scripts[req.FailedNode.ID]
	if len(script) == 0 {
		return correction.Response{Action: correction.ActionAbort, Reason: "script exhausted"}, nil
	}
	c.scripts[req.FailedNode.ID] = script[1:]
	return script[0], nil
}

// Requests returns every request received so far.
func (c *ScriptedCorrector) Requests() []correction.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]correction.Request(nil), c.requests...)
}
