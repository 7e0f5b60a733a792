package snowflake

import (
	"errors"
	"sync"
	"time"
)

// Message ids are snowflakes: 41 bits of milliseconds since epoch, 10 bits
// of node id, 12 bits of per-millisecond sequence. Ordering ids numerically
// therefore orders messages by creation time with the sequence as tiebreak,
// which is the display order clients must preserve.

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Ids from a single node are strictly
// increasing; a backwards clock step is absorbed by holding the last
// observed time.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.time {
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Timestamp recovers the creation time encoded in an id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
