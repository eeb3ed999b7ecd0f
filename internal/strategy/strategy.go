// Package strategy turns sensor snapshots into trade decisions. Rules come
// from a YAML file that can be swapped while the bot runs.
package strategy

import (
	"sync/atomic"

	"github.com/kjannette/trahn-swarm/internal/models"
)

// Engine decides what to do with one agent/asset pair.
type Engine interface {
	Decide(s models.Sensors) models.Decision
}

// Holder serves the current Engine and lets a reloader replace it without
// blocking readers.
type Holder struct {
	cur atomic.Pointer[engineBox]
}

type engineBox struct{ e Engine }

func NewHolder(e Engine) *Holder {
	h := &Holder{}
	h.Swap(e)
	return h
}

func (h *Holder) Swap(e Engine) {
	h.cur.Store(&engineBox{e: e})
}

func (h *Holder) Current() Engine {
	if b := h.cur.Load(); b != nil {
		return b.e
	}
	return nil
}

// Decide runs the current engine and normalizes its answer. A nil engine or
// a panicking one holds.
func (h *Holder) Decide(s models.Sensors) (d models.Decision) {
	e := h.Current()
	if e == nil {
		return models.HoldDecision("no strategy loaded")
	}
	defer func() {
		if r := recover(); r != nil {
			d = models.HoldDecision("strategy error")
		}
	}()
	return e.Decide(s).Normalize()
}
