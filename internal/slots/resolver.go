// Package slots resolves a validator's slot assignment from an election block.
package slots

import "github.com/Albermonte/validator-election-bot/internal/chain"

// Report is the slot assignment of one validator in one election block.
type Report struct {
	Validator string
	Epoch     uint32
	Assigned  bool
	NumSlots  uint16
}

// UpcomingEpoch is the epoch the assignment applies to. Election blocks
// close an epoch and fix the slots of the next one.
func (r Report) UpcomingEpoch() uint32 {
	return r.Epoch + 1
}

// Resolve looks up validator in block's slot list. ok is false when block is
// nil or not an election block; callers must skip all further work then.
func Resolve(block *chain.ElectionBlock, validator string) (report Report, ok bool) {
	report = Report{Validator: validator}
	if block == nil || !block.IsElectionBlock {
		return report, false
	}

	report.Epoch = block.Epoch
	for _, slot := range block.Slots {
		if slot.Validator == validator {
			report.Assigned = slot.NumSlots > 0
			report.NumSlots = slot.NumSlots
			break
		}
	}
	return report, true
}
