package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/arlc/groupchat/internal/protocol"
)

// epoch tracks one run of the two-round Burmester-Desmedt key exchange.
// While inProgress is false both counters are zero; this invariant is
// maintained by every method below, all of which assume h.mu is held.
type epoch struct {
	inProgress      bool
	round1Completed int
	round2Completed int
	// round2Started distinguishes AwaitingRound1 from AwaitingRound2
	// while inProgress is true. It is an implementation detail of the
	// state machine, not part of the spec's three counted fields.
	round2Started bool

	// generation is bumped on every membership change; a scheduled
	// epoch start only fires if it still matches, so a later
	// membership change supersedes an earlier pending start.
	generation uint64
}

// afterJoinLocked aborts any in-progress epoch (a join during an
// in-progress epoch restarts it so the joiner participates) and, if the
// group is now large enough, schedules a fresh epoch start. A first join
// taking the group from 0 to 1 gets neither an epoch nor a key reset — it
// simply has nobody to agree a key with yet. Callers must hold h.mu.
func (h *Hub) afterJoinLocked() {
	h.abortEpochLocked()
	h.epoch.generation++

	if len(h.group) >= 2 {
		h.scheduleEpochLocked()
	}
}

// afterDisconnectLocked aborts any in-progress epoch and either schedules
// a fresh epoch start (group still has >=2 members) or sends the sole
// survivor an individual key reset (exactly one member remains).
// Callers must hold h.mu.
func (h *Hub) afterDisconnectLocked(soleSurvivorIdx int) {
	h.abortEpochLocked()
	h.epoch.generation++

	switch {
	case len(h.group) >= 2:
		h.scheduleEpochLocked()
	case len(h.group) == 1 && soleSurvivorIdx >= 0:
		h.sendIndividualKeyResetLocked(soleSurvivorIdx)
	}
}

// scheduleEpochLocked arranges for a new epoch to start after the settle
// delay, unless superseded by a later membership change in the meantime.
// Callers must hold h.mu.
func (h *Hub) scheduleEpochLocked() {
	gen := h.epoch.generation
	delay := h.settleDelay

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if gen != h.epoch.generation {
			return // a later membership change superseded this start
		}
		if h.epoch.inProgress || len(h.group) < 2 {
			return
		}
		h.startEpochLocked()
	}()
}

// startEpochLocked transitions Idle -> AwaitingRound1: it resets the
// epoch counters, clears every present slot's round-1 progress, and
// broadcasts S2C_START_KEY_EXCHANGE_ROUND1. Callers must hold h.mu.
func (h *Hub) startEpochLocked() {
	h.epoch.inProgress = true
	h.epoch.round1Completed = 0
	h.epoch.round2Completed = 0
	h.epoch.round2Started = false

	for _, s := range h.slots {
		if !s.empty() {
			s.completedRound1 = false
			s.intermediate = 0
		}
	}

	h.log.Info("key exchange epoch started", zap.Int("groupSize", len(h.group)))

	payload, err := protocol.Encode(protocol.TypeStartKeyExchangeRound1, protocol.StartKeyExchangeRound1Payload{
		GroupSize: len(h.group),
	})
	if err != nil {
		h.log.Error("encode round1 start", zap.Error(err))
		return
	}
	h.broadcastLocked(payload, -1)
}

// abortEpochLocked resets the epoch to Idle without broadcasting
// anything. It is a no-op if no epoch is in progress. Callers must hold
// h.mu.
func (h *Hub) abortEpochLocked() {
	if !h.epoch.inProgress {
		return
	}
	h.log.Info("key exchange epoch aborted")
	h.epoch.inProgress = false
	h.epoch.round1Completed = 0
	h.epoch.round2Completed = 0
	h.epoch.round2Started = false
}

// onIntermediateValue handles a C2S_INTERMEDIATE_VALUE frame from the
// slot at idx. Out-of-round frames are logged and dropped, per the
// error-handling policy. Callers must hold h.mu.
func (h *Hub) onIntermediateValue(idx int, value uint64) {
	if !h.epoch.inProgress || h.epoch.round2Started {
		h.log.Debug("dropping intermediate value out of round", zap.Int("slot", idx))
		return
	}

	s := h.slots[idx]
	if s.empty() || s.completedRound1 {
		return
	}

	s.intermediate = value
	s.completedRound1 = true
	h.epoch.round1Completed++

	if h.epoch.round1Completed == len(h.group) {
		h.startRound2Locked()
	}
}

// startRound2Locked transitions AwaitingRound1 -> AwaitingRound2: it
// collects every slot's round-1 contribution aligned with group order
// and broadcasts S2C_START_KEY_EXCHANGE_ROUND2. Callers must hold h.mu.
func (h *Hub) startRound2Locked() {
	entries := make([]protocol.IntermediateValueEntry, 0, len(h.group))
	for _, m := range h.group {
		idx := h.indexOfUsername(m.Username)
		if idx < 0 {
			// A contributing member left between round 1 completing
			// and this transition; restart the epoch so nobody is
			// waiting on a departed participant.
			h.abortEpochLocked()
			h.epoch.generation++
			h.scheduleEpochLocked()
			return
		}
		entries = append(entries, protocol.IntermediateValueEntry{
			Username:          m.Username,
			IntermediateValue: h.slots[idx].intermediate,
		})
	}

	h.epoch.round2Started = true
	h.epoch.round2Completed = 0

	h.log.Info("key exchange round 2 started", zap.Int("groupSize", len(entries)))

	payload, err := protocol.Encode(protocol.TypeStartKeyExchangeRound2, protocol.StartKeyExchangeRound2Payload{
		IntermediateValues: entries,
	})
	if err != nil {
		h.log.Error("encode round2 start", zap.Error(err))
		return
	}
	h.broadcastLocked(payload, -1)
}

// onRound2Completed handles a C2S_ROUND2_COMPLETED frame from the slot at
// idx. Callers must hold h.mu.
func (h *Hub) onRound2Completed(idx int) {
	if !h.epoch.inProgress || !h.epoch.round2Started {
		h.log.Debug("dropping round2 completion out of round", zap.Int("slot", idx))
		return
	}

	h.epoch.round2Completed++
	if h.epoch.round2Completed != len(h.group) {
		return
	}

	h.log.Info("key exchange epoch completed")
	h.epoch.inProgress = false
	h.epoch.round1Completed = 0
	h.epoch.round2Completed = 0
	h.epoch.round2Started = false

	payload, err := protocol.Encode(protocol.TypeKeyExchangeCompleted, nil)
	if err != nil {
		h.log.Error("encode key exchange completed", zap.Error(err))
		return
	}
	h.broadcastLocked(payload, -1)
}

// sendIndividualKeyResetLocked notifies the sole remaining participant
// that it should generate a fresh individual key. Callers must hold h.mu.
func (h *Hub) sendIndividualKeyResetLocked(idx int) {
	payload, err := protocol.Encode(protocol.TypeIndividualKeyReset, protocol.IndividualKeyResetPayload{
		Message: "You are the only participant left. A new individual key has been generated.",
	})
	if err != nil {
		h.log.Error("encode individual key reset", zap.Error(err))
		return
	}
	h.sendToLocked(idx, payload)
}
