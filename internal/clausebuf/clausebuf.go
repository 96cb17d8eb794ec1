// Package clausebuf implements the bounded-size publish/subscribe clause
// exchange buffer. Grounded on
// original_source/src/hordesat/utilities/ClauseDatabase.h's bucket-by-length
// layout with a VIP side list.
package clausebuf

import "sync"

// Clause is a single learned clause: an ordered list of signed literals.
type Clause struct {
	Literals []int32
}

const defaultBucketCapacity = 1000

// Buffer is a per-process clause exchange buffer. addClause/addVIPClause are
// thread-safe; giveSelection is destructive over the buckets it drains.
type Buffer struct {
	mu sync.Mutex

	// buckets[n] holds clauses of length n+1 (1-literal bucket at index 0),
	// each a fixed-capacity array with a top pointer.
	buckets []bucket
	vip     []Clause

	bucketCapacity int
}

type bucket struct {
	clauses []Clause // insertion order; top == len(clauses)
}

// New creates an empty Buffer. maxLiteralsPerClause bounds how many
// length-buckets are pre-allocated; longer clauses are rejected by
// AddClause (callers are expected to route over-length clauses elsewhere).
func New(maxLiteralsPerClause int) *Buffer {
	if maxLiteralsPerClause < 1 {
		maxLiteralsPerClause = 1
	}
	b := &Buffer{
		buckets:        make([]bucket, maxLiteralsPerClause),
		bucketCapacity: defaultBucketCapacity,
	}
	return b
}

// AddClause stores a non-VIP clause in the bucket for its length. Returns
// false if the clause exceeds the buffer's max length or its bucket is
// full.
func (b *Buffer) AddClause(literals []int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(literals)
	if n < 1 || n > len(b.buckets) {
		return false
	}
	bk := &b.buckets[n-1]
	if len(bk.clauses) >= b.bucketCapacity {
		return false
	}
	cl := make([]int32, n)
	copy(cl, literals)
	bk.clauses = append(bk.clauses, Clause{Literals: cl})
	return true
}

// AddVIPClause bypasses bucketing entirely: VIP clauses are held in an
// unbounded side list.
func (b *Buffer) AddVIPClause(literals []int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cl := make([]int32, len(literals))
	copy(cl, literals)
	b.vip = append(b.vip, Clause{Literals: cl})
}

// GiveSelection assembles a contiguous export block into out, up to size
// ints: a leading [vipCount] header, then that many length-tagged VIP
// clauses ([numLits] lit*numLits), then fixed-length runs of 1-literal,
// 2-literal, ... clauses in the wire format [numLits][run-count]
// [lit*numLits*count], draining selected buckets destructively. It returns
// the number of ints used and the number of clauses exported. No clause is
// split across a selection, and used ints never exceed size.
func (b *Buffer) GiveSelection(out []int32, size int) (usedInts, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(out) == 0 || size < 1 {
		return 0, 0
	}

	budget := size - 1
	write := 1 // out[0] reserved for the VIP count header

	// VIP clauses, length-tagged: [numLits] lit*numLits.
	kept := b.vip[:0]
	i := 0
	vipCount := 0
	for ; i < len(b.vip); i++ {
		cl := b.vip[i]
		need := 1 + len(cl.Literals)
		if budget < need {
			break
		}
		if write+need > len(out) {
			break
		}
		out[write] = int32(len(cl.Literals))
		write++
		copy(out[write:write+len(cl.Literals)], cl.Literals)
		write += len(cl.Literals)
		budget -= need
		count++
		vipCount++
	}
	kept = append(kept, b.vip[i:]...)
	b.vip = kept
	out[0] = int32(vipCount)

	// Fixed-length runs per bucket, ascending length.
	const header = 2
	for n := 1; n <= len(b.buckets); n++ {
		bk := &b.buckets[n-1]
		if len(bk.clauses) == 0 {
			continue
		}
		if budget < header+n || write+header+n > len(out) {
			continue
		}
		run := 0
		remaining := budget - header
		for run < len(bk.clauses) && remaining >= n && write+header+(run+1)*n <= len(out) {
			remaining -= n
			run++
		}
		if run == 0 {
			continue
		}
		out[write] = int32(n)
		out[write+1] = int32(run)
		write += header
		budget -= header
		for k := 0; k < run; k++ {
			copy(out[write:write+n], bk.clauses[k].Literals)
			write += n
			budget -= n
			count++
		}
		bk.clauses = bk.clauses[run:]
	}

	return write, count
}

// IncomingReader mirrors GiveSelection's output, yielding clauses in the
// order written.
type IncomingReader struct {
	buf []int32
	pos int

	vipRemaining int
	runRemaining int
	runLen       int
}

// SetIncomingBuffer installs buf as the reader's source, consuming the
// leading VIP-count header GiveSelection writes at out[0].
func SetIncomingBuffer(buf []int32) *IncomingReader {
	r := &IncomingReader{buf: buf}
	if len(buf) > 0 {
		r.vipRemaining = int(buf[0])
		r.pos = 1
	}
	return r
}

// ReadVIP yields the next VIP clause's literals, returning false once the
// writer's VIP count is exhausted. Callers must drain ReadVIP to false
// before switching to ReadRun/NextInRun for the bucket runs that follow.
func (r *IncomingReader) ReadVIP() ([]int32, bool) {
	if r.vipRemaining <= 0 {
		return nil, false
	}
	if r.pos >= len(r.buf) {
		return nil, false
	}
	n := int(r.buf[r.pos])
	r.pos++
	if r.pos+int(n) > len(r.buf) {
		return nil, false
	}
	cl := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	r.vipRemaining--
	return cl, true
}

// ReadRun reads one bucket run's header; NextInRun then yields each clause
// in the run via repeated calls until the run is exhausted (ok=false
// thereafter until the caller calls ReadRun again for the next bucket).
func (r *IncomingReader) ReadRun() (numLits, runCount int, ok bool) {
	if r.pos+2 > len(r.buf) {
		return 0, 0, false
	}
	numLits = int(r.buf[r.pos])
	runCount = int(r.buf[r.pos+1])
	r.pos += 2
	r.runLen = numLits
	r.runRemaining = runCount
	return numLits, runCount, true
}

// NextInRun returns the next clause within the current run.
func (r *IncomingReader) NextInRun() ([]int32, bool) {
	if r.runRemaining <= 0 {
		return nil, false
	}
	if r.pos+r.runLen > len(r.buf) {
		return nil, false
	}
	cl := r.buf[r.pos : r.pos+r.runLen]
	r.pos += r.runLen
	r.runRemaining--
	return cl, true
}

func (r *IncomingReader) Done() bool { return r.pos >= len(r.buf) }
