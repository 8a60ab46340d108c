package state

import "github.com/nebulavm/nebula/core/types"

// accessList tracks the addresses and storage slots warmed so far in the
// transaction (EIP-2929). Warmth is journaled by the StateDB, so reverts
// restore cold status.
type accessList struct {
	addresses map[types.Address]int       // address -> slot set index, -1 if none
	slots     []map[types.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{addresses: make(map[types.Address]int)}
}

// AddAddress warms an address. Returns true if it was already warm.
func (al *accessList) AddAddress(addr types.Address) bool {
	if _, ok := al.addresses[addr]; ok {
		return true
	}
	al.addresses[addr] = -1
	return false
}

// AddSlot warms an (address, slot) pair, reporting which parts were
// already warm.
func (al *accessList) AddSlot(addr types.Address, slot types.Hash) (addrPresent, slotPresent bool) {
	idx, addrPresent := al.addresses[addr]
	if addrPresent && idx != -1 {
		if _, ok := al.slots[idx][slot]; ok {
			return true, true
		}
		al.slots[idx][slot] = struct{}{}
		return true, false
	}
	al.addresses[addr] = len(al.slots)
	al.slots = append(al.slots, map[types.Hash]struct{}{slot: {}})
	return addrPresent, false
}

// ContainsAddress reports whether the address is warm.
func (al *accessList) ContainsAddress(addr types.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

// Contains reports warmth of the address and the slot.
func (al *accessList) Contains(addr types.Address, slot types.Hash) (addressOk, slotOk bool) {
	idx, ok := al.addresses[addr]
	if !ok {
		return false, false
	}
	if idx == -1 {
		return true, false
	}
	_, slotOk = al.slots[idx][slot]
	return true, slotOk
}

// DeleteAddress removes an address; used only by journal reverts, which
// guarantee no slots were added under it after the entry being undone.
func (al *accessList) DeleteAddress(addr types.Address) {
	delete(al.addresses, addr)
}

// DeleteSlot removes a slot; used only by journal reverts.
func (al *accessList) DeleteSlot(addr types.Address, slot types.Hash) {
	idx, ok := al.addresses[addr]
	if !ok || idx == -1 {
		return
	}
	delete(al.slots[idx], slot)
}
