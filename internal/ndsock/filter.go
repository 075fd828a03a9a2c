package ndsock

import "golang.org/x/net/bpf"

// Offsets into a captured Ethernet II frame, counting the 14-byte Ethernet
// header as part of the buffer the kernel hands to the filter.
const (
	offEtherType  = 12
	offNextHeader = offEtherHeader + 6
	offHopLimit   = offEtherHeader + 7
	offICMPv6Type = offEtherHeader + ipv6HeaderLen
	offICMPv6Code = offICMPv6Type + 1
)

const etherTypeIPv6 = 0x86dd

// icmpv6NextHeader is the IPv6 Next Header value for ICMPv6 (RFC 8200 §4,
// protocol number 58).
const icmpv6NextHeader = 58

// ndTypeLow and ndTypeHigh bound the inclusive range of ND message types
// (Router Solicitation through Redirect).
const (
	ndTypeLow  = 133
	ndTypeHigh = 137
)

const (
	filterAccept = 0xffff
	filterReject = 0
)

// NDFilter returns a classic BPF program that accepts a captured frame only
// if it is IPv6, its next header is ICMPv6, its hop limit is 255, and its
// ICMPv6 type is a Neighbor Discovery type with code 0.  Every other frame
// is rejected with length 0, so the kernel drops it before user-space
// wake-up.
func NDFilter() (prog []bpf.RawInstruction, err error) {
	// Instruction layout (indices below refer to this slice):
	//   0  load ethertype
	//   1  jump unless IPv6                  -> 12 (reject)
	//   2  load next header
	//   3  jump unless ICMPv6                -> 12 (reject)
	//   4  load hop limit
	//   5  jump unless 255                   -> 12 (reject)
	//   6  load ICMPv6 type
	//   7  jump if type < 133                -> 12 (reject)
	//   8  jump if type > 137                -> 12 (reject)
	//   9  load ICMPv6 code
	//   10 jump unless code == 0             -> 12 (reject)
	//   11 return accept
	//   12 return reject
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 10},
		bpf.LoadAbsolute{Off: offNextHeader, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: icmpv6NextHeader, SkipFalse: 8},
		bpf.LoadAbsolute{Off: offHopLimit, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 255, SkipFalse: 6},
		bpf.LoadAbsolute{Off: offICMPv6Type, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpLessThan, Val: ndTypeLow, SkipTrue: 4},
		bpf.JumpIf{Cond: bpf.JumpGreaterThan, Val: ndTypeHigh, SkipTrue: 3},
		bpf.LoadAbsolute{Off: offICMPv6Code, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0, SkipFalse: 1},
		bpf.RetConstant{Val: filterAccept},
		bpf.RetConstant{Val: filterReject},
	})
}

// NonNDFilter returns a classic BPF program that accepts any IPv6 frame
// except one [NDFilter] would also accept, partitioning inbound IPv6
// traffic cleanly between an ND-handling socket and this one.
func NonNDFilter() (prog []bpf.RawInstruction, err error) {
	// Instruction layout mirrors NDFilter.  A non-IPv6 frame is still
	// rejected (12); past the EtherType check, accept (11) and reject (12)
	// are swapped at every branch, so any IPv6 frame that is not a full ND
	// match is accepted here instead of rejected.
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 10},
		bpf.LoadAbsolute{Off: offNextHeader, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: icmpv6NextHeader, SkipFalse: 7},
		bpf.LoadAbsolute{Off: offHopLimit, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 255, SkipFalse: 5},
		bpf.LoadAbsolute{Off: offICMPv6Type, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpLessThan, Val: ndTypeLow, SkipTrue: 3},
		bpf.JumpIf{Cond: bpf.JumpGreaterThan, Val: ndTypeHigh, SkipTrue: 2},
		bpf.LoadAbsolute{Off: offICMPv6Code, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0, SkipTrue: 1},
		bpf.RetConstant{Val: filterAccept},
		bpf.RetConstant{Val: filterReject},
	})
}
