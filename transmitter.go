package main

import (
	"errors"
	"sync/atomic"
	"time"
)

// txRequest is one queued command. epoch ties the request to the session it
// was accepted in; results from dead sessions are discarded. poison makes the
// worker exit after draining nothing else.
type txRequest struct {
	epoch          uint64
	cmd            Command
	name           string
	allowTransient bool
	poison         bool
}

// evTxResult is posted by the tx worker after each write attempt.
type evTxResult struct {
	epoch          uint64
	name           string
	allowTransient bool
	sent           bool
	ioErr          string
	handleGone     bool
}

// Send queues a command for transmission. It never blocks: false means the
// command was rejected because the device is not ready, the control channel
// is suspended by backoff, or the queue is full.
func (c *Controller) Send(cmd Command, allowTransient bool) bool {
	if atomic.LoadUint32(&c.shuttingDown) != 0 {
		return false
	}
	if atomic.LoadUint32(&c.ready) == 0 {
		return false
	}
	if until := atomic.LoadInt64(&c.suspendedUntil); until != 0 && time.Now().UnixNano() < until {
		c.log.Debug().Str("command", cmd.Name()).Msg("Skipping command, control channel busy")
		return false
	}
	req := txRequest{
		epoch:          atomic.LoadUint64(&c.txEpoch),
		cmd:            cmd,
		name:           cmd.Name(),
		allowTransient: allowTransient,
	}
	select {
	case c.txQueue <- req:
		return true
	default:
		if suffix, ok := c.queueFullLog.emit(); ok {
			c.log.Warn().Str("command", req.name).Msgf("Command queue full, dropping command%s", suffix)
		}
		return false
	}
}

// txWorkerLoop serializes all writes onto the transport. It only performs
// I/O and posts results; session state changes happen on the coordinator.
func (c *Controller) txWorkerLoop() {
	defer close(c.txDone)
	for {
		select {
		case <-c.txStop:
			return
		case req := <-c.txQueue:
			if req.poison {
				return
			}
			if req.epoch != atomic.LoadUint64(&c.txEpoch) {
				continue
			}
			err := c.tr.Write(req.cmd.Bytes())
			result := evTxResult{
				epoch:          req.epoch,
				name:           req.name,
				allowTransient: req.allowTransient,
				sent:           err == nil,
			}
			if err != nil {
				result.ioErr = err.Error()
				result.handleGone = errors.Is(err, errHandleUnavailable)
			}
			c.post(result)
		}
	}
}

// drainTxQueue empties pending requests after an epoch bump so stale commands
// never reach a fresh handle.
func (c *Controller) drainTxQueue() {
	for {
		select {
		case <-c.txQueue:
		default:
			return
		}
	}
}
