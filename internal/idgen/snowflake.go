// Package idgen issues the opaque identifiers of links and users.
//
// Ids are simplified Snowflake values: unique 63-bit integers that are
// roughly time-sortable, produced in-process so the database never hands out
// auto-increment keys. https://en.wikipedia.org/wiki/Snowflake_ID
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	customEpoch int64 = 1704067200000 // Jan 1, 2024
	nodeIDBits  uint  = 10
	seqBits     uint  = 12
	maxNodeID   int64 = -1 ^ (-1 << nodeIDBits)
	maxSeq      int64 = -1 ^ (-1 << seqBits)
)

type Generator struct {
	mu        sync.Mutex
	lastStamp int64
	nodeID    int64
	seq       int64
	now       func() time.Time
}

func New(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("node id %d out of range [0, %d]", nodeID, maxNodeID)
	}

	return &Generator{nodeID: nodeID, now: time.Now}, nil
}

func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	if ts < g.lastStamp {
		// Clock went backwards, wait
		ts = g.wait(ts)
	}
	if ts == g.lastStamp {
		g.seq = (g.seq + 1) & maxSeq
		if g.seq == 0 {
			ts = g.wait(ts)
		}
	} else {
		g.seq = 0
	}
	g.lastStamp = ts

	return ((ts - customEpoch) << (nodeIDBits + seqBits)) |
		(g.nodeID << seqBits) |
		g.seq
}

func (g *Generator) wait(currentTS int64) int64 {
	for currentTS <= g.lastStamp {
		time.Sleep(time.Millisecond)
		currentTS = g.now().UnixMilli()
	}

	return currentTS
}
