package qnetsim

// queue.go holds the packet and the FIFO buffer both models store packets in

// Unbounded is the capacity of a PcktQueue that never rejects
const Unbounded = -1

// Packet is the unit of traffic.  It is created at an arrival event and is
// either rejected at admission or held by a queue until it is transmitted.
type Packet struct {
	ID       int     // sequence number of the arrival within the run
	SizeBits int     // length in bits
	ArrTime  float64 // simulation time of the arrival
}

// PcktQueue is a first-in-first-out buffer of packets with an optional capacity
type PcktQueue struct {
	capacity  int       // maximum number of packets held, Unbounded if negative
	inQ       []*Packet // packets in arrival order
	highWater int       // largest length seen
}

// CreatePcktQueue is a constructor.  A negative capacity gives an unbounded queue.
func CreatePcktQueue(capacity int) *PcktQueue {
	pq := new(PcktQueue)
	if capacity < 0 {
		capacity = Unbounded
	}
	pq.capacity = capacity
	pq.inQ = make([]*Packet, 0)
	return pq
}

// Len returns the number of packets held
func (pq *PcktQueue) Len() int {
	return len(pq.inQ)
}

// Capacity returns the maximum length, or Unbounded
func (pq *PcktQueue) Capacity() int {
	return pq.capacity
}

// HighWater returns the largest length the queue has reached
func (pq *PcktQueue) HighWater() int {
	return pq.highWater
}

// Full is true when another packet would exceed the capacity
func (pq *PcktQueue) Full() bool {
	return pq.capacity != Unbounded && len(pq.inQ) >= pq.capacity
}

// Enqueue appends p, or returns false leaving the queue unchanged when it is full
func (pq *PcktQueue) Enqueue(p *Packet) bool {
	if pq.Full() {
		return false
	}
	pq.inQ = append(pq.inQ, p)
	if len(pq.inQ) > pq.highWater {
		pq.highWater = len(pq.inQ)
	}
	return true
}

// Front returns the earliest-inserted packet without removing it
func (pq *PcktQueue) Front() (*Packet, bool) {
	if len(pq.inQ) == 0 {
		return nil, false
	}
	return pq.inQ[0], true
}

// Dequeue removes and returns the earliest-inserted packet
func (pq *PcktQueue) Dequeue() (*Packet, bool) {
	var p *Packet
	if len(pq.inQ) == 0 {
		return nil, false
	}
	p, pq.inQ[0] = pq.inQ[0], nil
	pq.inQ = pq.inQ[1:]
	return p, true
}
