package types

// MaxTopicsPerLog is the maximum number of indexed topics in a single log
// event (LOG0..LOG4).
const MaxTopicsPerLog = 4

// Log represents a contract log event emitted during execution.
type Log struct {
	Address Address
	Topics  []Hash
	Data    []byte

	// Execution context, filled in by the state layer.
	BlockNumber uint64
	TxHash      Hash
	TxIndex     uint
	Index       uint
	Removed     bool
}

// Copy returns a deep copy of the log.
func (l *Log) Copy() *Log {
	cp := *l
	cp.Topics = make([]Hash, len(l.Topics))
	copy(cp.Topics, l.Topics)
	cp.Data = make([]byte, len(l.Data))
	copy(cp.Data, l.Data)
	return &cp
}

// LogFilter defines criteria for matching logs: a log matches when its
// address is in Addresses (empty matches all) and every non-empty topic
// position contains the log's topic at that position.
type LogFilter struct {
	Addresses []Address
	Topics    [][]Hash
}

// Match returns true if the log satisfies the filter criteria.
func (f *LogFilter) Match(l *Log) bool {
	if l == nil {
		return false
	}
	if len(f.Addresses) > 0 {
		found := false
		for _, addr := range f.Addresses {
			if l.Address == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, topicSet := range f.Topics {
		if len(topicSet) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range topicSet {
			if l.Topics[i] == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
