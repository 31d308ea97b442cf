package main

import (
	"sync/atomic"
	"time"
)

// packetReceiver runs timed reads against the transport and hands complete
// frames to the coordinator. It stops cooperatively: setting the stop flag
// releases the loop within one read timeout.
type packetReceiver struct {
	tr       Transport
	timeout  time.Duration
	stop     uint32
	done     chan struct{}
	onPacket func([]byte)
	onError  func(string)
}

func newPacketReceiver(tr Transport, timeout time.Duration, onPacket func([]byte), onError func(string)) *packetReceiver {
	return &packetReceiver{
		tr:       tr,
		timeout:  timeout,
		done:     make(chan struct{}),
		onPacket: onPacket,
		onError:  onError,
	}
}

func (r *packetReceiver) start() {
	go r.loop()
}

func (r *packetReceiver) requestStop() {
	atomic.StoreUint32(&r.stop, 1)
}

// waitStopped blocks until the loop exits or the grace period lapses.
// Returns false on timeout; the loop still holds the transport then.
func (r *packetReceiver) waitStopped(grace time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(grace):
		return false
	}
}

func (r *packetReceiver) loop() {
	defer close(r.done)
	buf := make([]byte, 64)
	for atomic.LoadUint32(&r.stop) == 0 {
		n, err := r.tr.Read(buf, r.timeout)
		if err != nil {
			if atomic.LoadUint32(&r.stop) == 0 && r.onError != nil {
				r.onError(err.Error())
			}
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		if r.onPacket != nil {
			r.onPacket(frame)
		}
	}
}
