package realtime

// DefaultQueueCapacity bounds the outbound queue. Enqueue on a full queue
// fails instead of blocking.
const DefaultQueueCapacity = 50

// outbound is one queued message. The payload is owned by the queue.
type outbound struct {
	payload []byte
}

// ring is a fixed-capacity FIFO. Not safe for concurrent use; the client
// guards it with its mutex.
type ring struct {
	slots []outbound
	head  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ring{slots: make([]outbound, capacity)}
}

func (r *ring) Len() int { return r.count }

// push appends m and reports false when the ring is full.
func (r *ring) push(m outbound) bool {
	if r.count == len(r.slots) {
		return false
	}
	r.slots[(r.head+r.count)%len(r.slots)] = m
	r.count++
	return true
}

func (r *ring) peek() (outbound, bool) {
	if r.count == 0 {
		return outbound{}, false
	}
	return r.slots[r.head], true
}

func (r *ring) pop() {
	if r.count == 0 {
		return
	}
	r.slots[r.head] = outbound{}
	r.head = (r.head + 1) % len(r.slots)
	r.count--
}

// clear drops every message and zeroes the payload bytes.
func (r *ring) clear() {
	for r.count > 0 {
		m, _ := r.peek()
		for i := range m.payload {
			m.payload[i] = 0
		}
		r.pop()
	}
	r.head = 0
}
