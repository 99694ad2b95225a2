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

// Command sr-ctrl is the SRv6 control-plane controller: it watches
// NodeState/LinkState/FlowReq rows over OVSDB, computes segment paths
// satisfying each request's bandwidth/delay constraints, and commits
// FlowState rows back.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kphf1995cm/srn/internal/config"
	"github.com/kphf1995cm/srn/internal/flowmgr"
	"github.com/kphf1995cm/srn/internal/netmon"
	"github.com/kphf1995cm/srn/internal/netstate"
	"github.com/kphf1995cm/srn/internal/pipeline"
	"github.com/kphf1995cm/srn/internal/rules"
	"github.com/kphf1995cm/srn/internal/statebus"
	"github.com/kphf1995cm/srn/ovsdb"
)

const defaultConfig = "sr-ctrl.conf"

// initialReadyTimeout bounds how long Run waits for a table's first
// Initial row before proceeding anyway. The source's launch_srdb blocks
// on a per-table semaphore posted once the initial read genuinely
// completes, including the zero-row case; the monitor dispatch loop here
// only signals per received row, so an empty table has no such signal —
// this timeout is the fallback for that case.
const initialReadyTimeout = 2 * time.Second

// A Controller owns every long-lived collaborator the control plane
// needs, replacing the original's process-wide `_cfg` global (spec.md §9
// "Global `_cfg`" design note) with an explicit composition root.
type Controller struct {
	log *zap.Logger

	oc  *ovsdb.Client
	bus *statebus.Client

	ns    *netstate.Netstate
	flows *flowmgr.Manager
	pipe  *pipeline.Pipeline
	mon   *netmon.Monitor
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	confPath := defaultConfig
	switch len(os.Args) {
	case 1:
	case 2:
		confPath = os.Args[1]
	default:
		return fmt.Errorf("usage: %s [configfile]", os.Args[0])
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("sr-ctrl: init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(confPath)
	if err != nil {
		return fmt.Errorf("sr-ctrl: load configuration: %w", err)
	}

	ruleSet, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("sr-ctrl: load rules: %w", err)
	}

	network, addr, err := splitOVSDBServer(cfg.OVSDBServer)
	if err != nil {
		return fmt.Errorf("sr-ctrl: ovsdb_server: %w", err)
	}

	oc, err := ovsdb.Dial(network, addr)
	if err != nil {
		return fmt.Errorf("sr-ctrl: connect to ovsdb: %w", err)
	}
	defer oc.Close()

	ctrl := newController(log, cfg, ruleSet, oc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return ctrl.Run(ctx)
}

func newController(log *zap.Logger, cfg config.Config, ruleSet *rules.Set, oc *ovsdb.Client) *Controller {
	bus := statebus.New(oc, cfg.OVSDBDatabase, log)
	ns := netstate.New(log)
	flows := flowmgr.New(ns, ruleSet, cfg.Providers, bus, log)
	pipe := pipeline.New(cfg.ReqBufferSize, cfg.WorkerThreads, flows.Create, log)
	mon := netmon.New(ns, flows, netmon.GCInterval, log)

	return &Controller{
		log:   log,
		oc:    oc,
		bus:   bus,
		ns:    ns,
		flows: flows,
		pipe:  pipe,
		mon:   mon,
	}
}

// Run wires the state bus monitors to the netstate/pipeline and blocks
// until ctx is canceled, then lets every background goroutine drain.
// FlowReq monitoring is not installed until the LinkState monitor's
// initial snapshot has been applied, matching spec.md §5's "topology
// known before requests" ordering.
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { c.mon.Run(gctx); return nil })
	g.Go(func() error { return c.pipe.Run(gctx) })

	if err := c.monitorNodeState(gctx); err != nil {
		return err
	}
	if err := c.monitorLinkState(gctx); err != nil {
		return err
	}
	g.Go(func() error { return c.monitorFlowReq(gctx) })

	return g.Wait()
}

func (c *Controller) monitorNodeState(ctx context.Context) error {
	initialDone := make(chan struct{})
	var once sync.Once
	closeInitial := func() { once.Do(func() { close(initialDone) }) }

	go func() {
		err := c.bus.MonitorNodeState(ctx, func(action statebus.Action, row statebus.NodeStateRow) {
			c.handleNodeState(action, row)
			if action == statebus.Initial {
				closeInitial()
			}
		})
		if err != nil && c.log != nil {
			c.log.Error("NodeState monitor exited", zap.Error(err))
		}
		closeInitial()
	}()

	select {
	case <-initialDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initialReadyTimeout):
		if c.log != nil {
			c.log.Warn("NodeState initial read timed out, proceeding anyway")
		}
		return nil
	}
}

func (c *Controller) monitorLinkState(ctx context.Context) error {
	initialDone := make(chan struct{})
	var once sync.Once
	closeInitial := func() { once.Do(func() { close(initialDone) }) }

	go func() {
		err := c.bus.MonitorLinkState(ctx, func(action statebus.Action, row statebus.LinkStateRow) {
			c.handleLinkState(action, row)
			if action == statebus.Initial {
				closeInitial()
			}
		})
		if err != nil && c.log != nil {
			c.log.Error("LinkState monitor exited", zap.Error(err))
		}
		closeInitial()
	}()

	select {
	case <-initialDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(initialReadyTimeout):
		if c.log != nil {
			c.log.Warn("LinkState initial read timed out, proceeding anyway")
		}
		return nil
	}
}

func (c *Controller) monitorFlowReq(ctx context.Context) error {
	return c.bus.MonitorFlowReq(ctx, func(action statebus.Action, row statebus.FlowReqRow) {
		if action == statebus.Delete {
			return
		}
		if err := c.pipe.Submit(ctx, row); err != nil && c.log != nil {
			c.log.Warn("failed to submit FlowReq", zap.String("request_id", row.RequestID), zap.Error(err))
		}
	})
}

func (c *Controller) handleNodeState(action statebus.Action, row statebus.NodeStateRow) {
	switch action {
	case statebus.Initial, statebus.Insert:
		if _, err := c.ns.AddRouter(row); err != nil && c.log != nil {
			c.log.Warn("failed to add router", zap.String("name", row.Name), zap.Error(err))
		}
	case statebus.Delete:
		c.ns.RemoveRouter(row.Name)
	}
}

func (c *Controller) handleLinkState(action statebus.Action, row statebus.LinkStateRow) {
	switch action {
	case statebus.Initial, statebus.Insert:
		if err := c.ns.AddLink(row); err != nil && c.log != nil {
			c.log.Warn("failed to add link", zap.String("name1", row.Name1), zap.String("name2", row.Name2), zap.Error(err))
		}
	case statebus.Delete:
		addr1, err1 := netip.ParseAddr(row.Addr1)
		addr2, err2 := netip.ParseAddr(row.Addr2)
		if err1 == nil && err2 == nil {
			c.ns.RemoveLink(addr1, addr2)
		}
	}
}

// splitOVSDBServer splits a config "network:address" server string (the
// source's inet_pton-free OVSDB URL form, e.g. "tcp:[::1]:6640") into the
// network and address ovsdb.Dial expects.
func splitOVSDBServer(s string) (network, addr string, err error) {
	network, addr, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", fmt.Errorf("malformed ovsdb_server %q, expected \"<network>:<address>\"", s)
	}
	return network, addr, nil
}
