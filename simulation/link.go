package simulation

import (
	"errors"
	"sync"
	"time"

	"github.com/aditiharini/drone-mesh/network"
	"github.com/aditiharini/drone-mesh/packet"
)

var (
	ErrLinkClosed       = errors.New("link closed")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNoRoute          = errors.New("no route to destination")
	ErrNodeStopped      = errors.New("node stopped")
	ErrUnknownNode      = errors.New("unknown node")
	ErrUnknownDroneImpl = errors.New("unknown drone implementation")
)

// frame is an encoded packet in flight.
type frame struct {
	data        []byte
	src         network.NodeID
	arrivalTime time.Time
}

// Inbox is the receiving end shared by every link pointing at a node. Closing
// it makes those links report ErrLinkClosed.
type Inbox struct {
	owner  network.NodeID
	frames chan frame
	done   chan struct{}
	once   sync.Once
}

func NewInbox(owner network.NodeID, maxQueueLength int) *Inbox {
	return &Inbox{
		owner:  owner,
		frames: make(chan frame, maxQueueLength),
		done:   make(chan struct{}),
	}
}

func (in *Inbox) Close() {
	in.once.Do(func() { close(in.done) })
}

func (in *Inbox) Closed() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

func (in *Inbox) deliver(f frame) error {
	if in.Closed() {
		return ErrLinkClosed
	}
	select {
	case <-in.done:
		return ErrLinkClosed
	case in.frames <- f:
		return nil
	}
}

// Link is a directed FIFO channel from src into dst's inbox. With a non-zero
// delay, frames pass through an emulation goroutine that holds each one until
// its release time.
type Link struct {
	src    network.NodeID
	dst    network.NodeID
	delay  time.Duration
	input  chan frame
	inbox  *Inbox
	closed chan struct{}
	once   sync.Once
}

func NewLink(src network.NodeID, inbox *Inbox, delay time.Duration, maxQueueLength int) *Link {
	l := &Link{
		src:    src,
		dst:    inbox.owner,
		delay:  delay,
		inbox:  inbox,
		closed: make(chan struct{}),
	}
	if delay > 0 {
		l.input = make(chan frame, maxQueueLength)
		go l.run()
	}
	return l
}

func (l *Link) SrcAddr() network.NodeID {
	return l.src
}

func (l *Link) DstAddr() network.NodeID {
	return l.dst
}

// Send encodes p and queues it. It fails with ErrLinkClosed once either end
// is gone.
func (l *Link) Send(p *packet.Packet) error {
	if l.Closed() {
		return ErrLinkClosed
	}
	data, err := packet.Encode(p)
	if err != nil {
		return err
	}
	f := frame{data: data, src: l.src, arrivalTime: time.Now()}
	if l.input == nil {
		return l.inbox.deliver(f)
	}
	select {
	case <-l.closed:
		return ErrLinkClosed
	case <-l.inbox.done:
		return ErrLinkClosed
	case l.input <- f:
		return nil
	}
}

// Closed reports whether the link was closed by its owner or the
// destination terminated.
func (l *Link) Closed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return l.inbox.Closed()
	}
}

func (l *Link) Close() {
	l.once.Do(func() { close(l.closed) })
}

func (l *Link) run() {
	for l.applyEmulation() {
	}
}

// applyEmulation releases one frame after the link delay. It returns false
// once the link is shut.
func (l *Link) applyEmulation() bool {
	var f frame
	select {
	case <-l.closed:
		return false
	case <-l.inbox.done:
		return false
	case f = <-l.input:
	}
	releaseTime := f.arrivalTime.Add(l.delay)
	if delay := time.Until(releaseTime); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-l.closed:
			timer.Stop()
			return false
		}
	}
	return l.inbox.deliver(f) == nil
}
