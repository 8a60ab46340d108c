package types

// AccessTuple is a single entry of an EIP-2930 access list: an address and
// the storage keys of that address the transaction plans to touch.
type AccessTuple struct {
	Address     Address
	StorageKeys []Hash
}

// AccessList is the declared set of addresses and storage keys a
// transaction will access. Entries are warmed at transaction start.
type AccessList []AccessTuple

// Addresses returns the number of addresses in the access list.
func (al AccessList) Addresses() int { return len(al) }

// StorageKeys returns the total number of storage keys across all entries.
func (al AccessList) StorageKeys() int {
	n := 0
	for _, tuple := range al {
		n += len(tuple.StorageKeys)
	}
	return n
}
