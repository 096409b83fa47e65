/*
Package framesupplier distributes camera frames to consumers without queueing.

# Overview

The camera capture callback produces frames at the device rate (typically
30 fps). The render loop ticks at display rate and landmark detection may
run slower than either. Queueing frames would only add latency, so every
hop in this package is a single-slot mailbox: a newer frame overwrites an
unconsumed one and the overwrite is counted as a drop.

	capture callback ──Publish──▶ inbox ──distributionLoop──▶ consumer slots
	                                                           │
	                                        Read() / TryRead() ◀┘

# Consumers

A Reader offers two ways to consume:

  - Read blocks on a sync.Cond until a frame is available or the
    subscription is closed (returns nil).
  - TryRead never blocks. It returns the unconsumed frame, or nil when
    nothing new arrived since the last read. The render loop uses this so
    a tick can tell "new frame" from "same frame" and skip detection.

# Sequence numbers

Frame.Seq is assigned by the supplier during distribution and increases
monotonically. Consumers use it to detect drops.

# Immutability

Frames are shared by pointer. Publishers must not modify Frame.Data after
Publish and consumers must treat it as read-only.
*/
package framesupplier
