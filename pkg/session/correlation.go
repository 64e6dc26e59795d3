// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

// correlation is the callback registered for one function id
type correlation struct {
	used     bool
	command  uint8
	callback Callback
}

// correlationTable maps function ids to callbacks. Slots are overwritten
// when their id comes around again and never removed.
type correlationTable struct {
	slots [MaxFunctionID + 1]correlation
	last  uint8
}

// allocate returns the next function id, wrapping from MaxFunctionID to MinFunctionID
func (t *correlationTable) allocate() uint8 {
	if t.last >= MaxFunctionID {
		t.last = MinFunctionID
	} else {
		t.last++
	}
	return t.last
}

// register stores the callback for id
func (t *correlationTable) register(id uint8, command uint8, cb Callback) {
	t.slots[id] = correlation{used: true, command: command, callback: cb}
}

// lookup returns the slot for an inbound request, or false when the
// request is unsolicited
func (t *correlationTable) lookup(id uint8, command uint8) (correlation, bool) {
	if id < MinFunctionID || id > MaxFunctionID {
		return correlation{}, false
	}
	slot := t.slots[id]
	if !slot.used || slot.command != command {
		return correlation{}, false
	}
	return slot, true
}
