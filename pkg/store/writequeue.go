package store

import (
	"context"
	"log"
	"time"

	"github.com/yourusername/vegalite-server/pkg/model"
)

// writeOpType defines the type of write operation
type writeOpType int

const (
	opCreateConversion writeOpType = iota
	opUpdateConversion
	opPutArtifact
	opPrune
)

// writeOp represents a single write operation with its response channel
type writeOp struct {
	opType   writeOpType
	data     interface{}
	response chan writeResult
}

// writeResult contains the result of a write operation
type writeResult struct {
	err error
}

// writeQueue manages serialized database writes
type writeQueue struct {
	queue  chan writeOp
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newWriteQueue creates and starts a new write queue
func newWriteQueue(db *Store) *writeQueue {
	ctx, cancel := context.WithCancel(context.Background())
	wq := &writeQueue{
		queue:  make(chan writeOp, 100), // Buffer for 100 operations
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Start the single writer goroutine
	go wq.processQueue(db)

	return wq
}

// processQueue is the single writer goroutine that processes all write operations sequentially
func (wq *writeQueue) processQueue(db *Store) {
	defer close(wq.done)

	for {
		select {
		case <-wq.ctx.Done():
			// Drain remaining operations before shutting down
			for {
				select {
				case op := <-wq.queue:
					wq.executeOp(db, op)
				default:
					log.Println("[WRITE QUEUE] Shutdown complete")
					return
				}
			}

		case op := <-wq.queue:
			wq.executeOp(db, op)
		}
	}
}

// executeOp executes a single write operation
func (wq *writeQueue) executeOp(db *Store, op writeOp) {
	var result writeResult

	switch op.opType {
	case opCreateConversion:
		result.err = db.createConversionDirect(op.data.(*model.Conversion))

	case opUpdateConversion:
		result.err = db.updateConversionDirect(op.data.(*model.Conversion))

	case opPutArtifact:
		result.err = db.putArtifactDirect(op.data.(*model.Artifact))

	case opPrune:
		result.err = db.pruneDirect(op.data.(*pruneParams))
	}

	// Send result back to caller
	op.response <- result
}

// enqueue adds a write operation to the queue and waits for the result
func (wq *writeQueue) enqueue(opType writeOpType, data interface{}) error {
	response := make(chan writeResult, 1)

	op := writeOp{
		opType:   opType,
		data:     data,
		response: response,
	}

	select {
	case wq.queue <- op:
		// Operation queued successfully
	case <-wq.ctx.Done():
		return wq.ctx.Err()
	}

	// Wait for result
	select {
	case result := <-response:
		return result.err
	case <-wq.ctx.Done():
		return wq.ctx.Err()
	}
}

// shutdown gracefully shuts down the write queue
func (wq *writeQueue) shutdown() {
	log.Println("[WRITE QUEUE] Shutting down...")
	wq.cancel()
	<-wq.done
}

// pruneParams carries a prune cutoff in and the deleted row counts out
type pruneParams struct {
	before time.Time
	result PruneResult
}
