// Copyright 2017 DigitalOcean.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline buffers incoming FlowReq rows in a bounded channel and
// drains them across a fixed worker pool, mirroring sbuf/thread_worker in
// the original controller.
package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kphf1995cm/srn/internal/statebus"
)

// Processor handles one FlowReq to completion (rule match through
// FlowState commit or rejection). internal/flowmgr.Manager.Create
// satisfies this signature.
type Processor func(ctx context.Context, req statebus.FlowReqRow)

// A Pipeline is a bounded FlowReq queue drained by a fixed set of worker
// goroutines. Processing errors are the Processor's own concern (it
// writes a rejection status back to the bus); a Pipeline never aborts on
// one bad request, matching spec.md §7's "no per-request error ever
// cancels the control plane".
type Pipeline struct {
	reqs      chan statebus.FlowReqRow
	process   Processor
	nworkers  int
	log       *zap.Logger
}

// New returns a Pipeline with the given buffer capacity and worker count.
// A non-positive capacity or worker count is coerced to 1, matching
// load_config's own "zero becomes one" clamping for worker_threads and
// req_buffer_size.
func New(capacity, nworkers int, process Processor, log *zap.Logger) *Pipeline {
	if capacity < 1 {
		capacity = 1
	}
	if nworkers < 1 {
		nworkers = 1
	}
	return &Pipeline{
		reqs:     make(chan statebus.FlowReqRow, capacity),
		process:  process,
		nworkers: nworkers,
		log:      log,
	}
}

// Submit enqueues req for processing. It blocks if the buffer is full,
// applying backpressure to the caller (the statebus monitor dispatch
// loop), and returns ctx.Err() if ctx is canceled first.
func (p *Pipeline) Submit(ctx context.Context, req statebus.FlowReqRow) error {
	select {
	case p.reqs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the worker pool and blocks until ctx is canceled, at which
// point the request channel is closed and every worker drains whatever
// is already buffered before returning. Run never returns a non-nil
// error from a worker's own processing failure — only errgroup's context
// plumbing is used, not its error short-circuiting.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.nworkers; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}

	<-ctx.Done()
	close(p.reqs)

	return g.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	for req := range p.reqs {
		func() {
			defer func() {
				if r := recover(); r != nil && p.log != nil {
					p.log.Error("flow request processing panicked",
						zap.String("request_id", req.RequestID),
						zap.Any("panic", r))
				}
			}()
			p.process(ctx, req)
		}()
	}
}
