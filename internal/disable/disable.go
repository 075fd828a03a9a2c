// Package disable implements the bitset of reasons a proxy interface may be
// disabled, firing edge-triggered callbacks when the interface transitions
// between enabled and disabled as a whole.
package disable

// Reason is the bit position of one cause for disabling an interface.
type Reason uint

// Recognized disable reasons.  Soft reasons occupy bits 0-15 and can always
// be cleared by an external request; hard reasons occupy bits 16-31 and
// require the underlying condition itself to clear before the interface can
// be reenabled.
const (
	// SoftwareDisabled marks that an operator or external process asked for
	// the interface to be disabled.
	SoftwareDisabled Reason = 0

	// LoopDetected marks that ND loop prevention tripped on the interface.
	LoopDetected Reason = 1

	// LinkDown marks that the underlying network interface is administratively
	// or physically down.
	LinkDown Reason = 16

	// Groupless marks that the interface does not belong to a proxy group.
	Groupless Reason = 17
)

const (
	softMask uint32 = 0x0000ffff
	hardMask uint32 = 0xffff0000
)

// isHard reports whether r falls in the hard-reason range.
func (r Reason) isHard() (ok bool) { return uint(r) >= 16 }

// Labels tracks the set of reasons an interface is disabled and calls
// OnEnabled/OnDisabled on true 0<->non-0 transitions of that set.  The zero
// Labels is usable and starts enabled; callers that want callbacks must set
// OnEnabled and OnDisabled before calling any Mark/Clear method.
type Labels struct {
	// OnEnabled is called when the label set transitions from non-empty to
	// empty, if the triggering call opted into callbacks.
	OnEnabled func()

	// OnDisabled is called when the label set transitions from empty to
	// non-empty.
	OnDisabled func()

	flags uint32
}

func (l *Labels) hasAnyReason() (ok bool) { return l.flags != 0 }

func (l *Labels) hasHardReason() (ok bool) { return l.flags&hardMask != 0 }

func (l *Labels) fireEnabled() {
	if l.OnEnabled != nil {
		l.OnEnabled()
	}
}

func (l *Labels) fireDisabled() {
	if l.OnDisabled != nil {
		l.OnDisabled()
	}
}

// TryEnable enables the interface only if it currently has no disable
// reasons marked.  It reports whether OnEnabled was called.
func (l *Labels) TryEnable() (enabled bool) {
	if l.hasAnyReason() {
		return false
	}

	l.fireEnabled()

	return true
}

// ClearSoftLabels clears all soft-reason bits.  If useCallback is true and
// no hard reason remains set, OnEnabled is called and ClearSoftLabels
// reports true; otherwise it reports false and never fires a callback.
func (l *Labels) ClearSoftLabels(useCallback bool) (enabled bool) {
	l.flags &^= softMask

	if !l.hasHardReason() && useCallback {
		l.fireEnabled()

		return true
	}

	return false
}

// ClearAllLabels clears every disable reason.  If useCallback is true,
// OnEnabled is called unconditionally afterward.
func (l *Labels) ClearAllLabels(useCallback bool) {
	l.flags = 0

	if useCallback {
		l.fireEnabled()
	}
}

// setFlag sets the bit for reason.  If the label set was previously empty
// and useCallback is true, OnDisabled fires and setFlag reports true.
func (l *Labels) setFlag(reason Reason, useCallback bool) (disabled bool) {
	wasEmpty := !l.hasAnyReason()
	l.flags |= 1 << uint(reason)

	if wasEmpty && useCallback {
		l.fireDisabled()

		return true
	}

	return false
}

// clearFlag clears the bit for reason.  If this removes the last remaining
// reason and useCallback is true, OnEnabled fires and clearFlag reports
// true.
func (l *Labels) clearFlag(reason Reason, useCallback bool) (enabled bool) {
	hadReason := l.hasAnyReason()
	l.flags &^= 1 << uint(reason)

	if hadReason && !l.hasAnyReason() && useCallback {
		l.fireEnabled()

		return true
	}

	return false
}

// IsMarked reports whether reason is currently set.
func (l *Labels) IsMarked(reason Reason) (ok bool) {
	return l.flags&(1<<uint(reason)) != 0
}

// MarkSoftwareDisabled marks the interface software-disabled.
func (l *Labels) MarkSoftwareDisabled(useCallback bool) (disabled bool) {
	return l.setFlag(SoftwareDisabled, useCallback)
}

// ClearSoftwareDisabled clears the software-disabled reason.
func (l *Labels) ClearSoftwareDisabled(useCallback bool) (enabled bool) {
	return l.clearFlag(SoftwareDisabled, useCallback)
}

// MarkLoopDetected marks the interface as having tripped loop prevention.
// Loop detection always uses callbacks, matching the on-wire urgency of
// cutting off a looping interface immediately.
func (l *Labels) MarkLoopDetected() (disabled bool) {
	return l.setFlag(LoopDetected, true)
}

// ClearLoopDetected clears the loop-detected reason.
func (l *Labels) ClearLoopDetected() (enabled bool) {
	return l.clearFlag(LoopDetected, true)
}

// MarkLinkDown marks the interface's link as down.
func (l *Labels) MarkLinkDown() (disabled bool) {
	return l.setFlag(LinkDown, true)
}

// ClearLinkDown clears the link-down reason.
func (l *Labels) ClearLinkDown() (enabled bool) {
	return l.clearFlag(LinkDown, true)
}

// MarkGroupless marks the interface as not belonging to any proxy group.
func (l *Labels) MarkGroupless(useCallback bool) (disabled bool) {
	return l.setFlag(Groupless, useCallback)
}

// ClearGroupless clears the groupless reason.
func (l *Labels) ClearGroupless() (enabled bool) {
	return l.clearFlag(Groupless, true)
}
