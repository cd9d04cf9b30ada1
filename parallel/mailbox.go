package parallel

import "sync"

type matchKey struct {
	src, tag int
}

// envelope is a send that has reached its destination. In windowed mode data
// aliases the sender's buffer and sreq completes once it has been copied.
type envelope struct {
	src, tag int
	data     []float64
	sreq     *Request
}

type pending struct {
	src, tag int
	buf      []float64
	req      *Request
}

// mailbox holds, for one destination rank, the sends that arrived before a
// matching receive and the receives posted before a matching send. Both
// queues are FIFO per (source, tag) so messages never overtake each other.
type mailbox struct {
	mu         sync.Mutex
	unexpected map[matchKey][]*envelope
	posted     map[matchKey][]*pending
}

func newMailbox() *mailbox {
	return &mailbox{
		unexpected: make(map[matchKey][]*envelope),
		posted:     make(map[matchKey][]*pending),
	}
}

func (mb *mailbox) deliver(dest int, env *envelope) {
	key := matchKey{env.src, env.tag}
	mb.mu.Lock()
	q := mb.posted[key]
	if len(q) == 0 {
		mb.unexpected[key] = append(mb.unexpected[key], env)
		mb.mu.Unlock()
		return
	}
	p := q[0]
	if len(q) == 1 {
		delete(mb.posted, key)
	} else {
		mb.posted[key] = q[1:]
	}
	mb.mu.Unlock()
	match(dest, env, p)
}

func (mb *mailbox) post(dest int, p *pending) {
	key := matchKey{p.src, p.tag}
	mb.mu.Lock()
	q := mb.unexpected[key]
	if len(q) == 0 {
		mb.posted[key] = append(mb.posted[key], p)
		mb.mu.Unlock()
		return
	}
	env := q[0]
	if len(q) == 1 {
		delete(mb.unexpected, key)
	} else {
		mb.unexpected[key] = q[1:]
	}
	mb.mu.Unlock()
	match(dest, env, p)
}

func match(dest int, env *envelope, p *pending) {
	var err error
	if len(env.data) != len(p.buf) {
		err = &MessageSizeError{
			Src: env.src, Dest: dest, Tag: env.tag,
			Sent: len(env.data), Expected: len(p.buf),
		}
	} else {
		copy(p.buf, env.data)
	}
	p.req.complete(err)
	if env.sreq != nil {
		env.sreq.complete(err)
	}
}
