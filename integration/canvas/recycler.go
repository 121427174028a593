// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package canvas

import (
	"context"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/script"
)

// Recycler returns identifiers released by the actor to a hub.
//
// Messages other than script.Free are passed to Forward when it is set, so
// a page can still observe validation results and device cleanup.
type Recycler struct {
	hub     *gpucore.Hub
	Forward func(script.Msg)
}

// NewRecycler creates a recycler for hub.
func NewRecycler(hub *gpucore.Hub) *Recycler {
	return &Recycler{hub: hub}
}

// Handle processes one message and reports whether it was script.Exit.
func (r *Recycler) Handle(msg script.Msg) bool {
	switch m := msg.(type) {
	case script.Free:
		if err := r.hub.Free(m.Kind, m.ID); err != nil {
			slogger().Warn("canvas: recycle id", "kind", m.Kind, "id", m.ID, "err", err)
		}
		return false
	case script.Exit:
		if r.Forward != nil {
			r.Forward(msg)
		}
		return true
	default:
		if r.Forward != nil {
			r.Forward(msg)
		}
		return false
	}
}

// Run consumes msgs until the actor exits, msgs is closed or ctx is done.
func (r *Recycler) Run(ctx context.Context, msgs <-chan script.Msg) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok || r.Handle(msg) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
