// Package mdns implements a multicast DNS responder and one-shot/continuous
// resolver (RFC 6762/6763): a single Server owns the data model, the
// per-interface probe/announce state machines, the transmit scheduler and
// the query/browse aggregators, all mutated from exactly one goroutine.
package mdns

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/browse"
	"github.com/kdanielm/mdnsd/internal/dispatch"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/query"
	"github.com/kdanielm/mdnsd/internal/statemachine"
	"github.com/kdanielm/mdnsd/internal/transport"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
	"go.uber.org/zap"
)

// Server is the process-wide responder/resolver handle returned by New.
// The responder state below (store, queue, machine, engines) is mutated
// only by the action executor started in New; the socket and watcher pumps
// and API callers go through actions.EnqueueWait/Enqueue, except for
// read-only lookups against the mutex-guarded store (HostnameGet), matching
// spec.md §5's single-writer model.
type Server struct {
	cfg    config
	logger *zap.Logger

	store      *model.Store
	queue      *txqueue.Queue
	machine    *statemachine.Machine
	queries    *query.Engine
	browses    *browse.Engine
	dispatcher *dispatch.Dispatcher

	actions  *action.Queue
	executor *action.Executor

	socket  transport.Socket
	watcher transport.InterfaceWatcher
	clock   transport.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs and starts a Server: it binds the mDNS multicast sockets,
// starts the interface watcher, and launches the single-threaded action
// executor. Callers must eventually call Close.
func New(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)

	logger := cfg.logger
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("mdns")

	store := model.NewStore(cfg.hostname)
	if err := store.SetInstanceName(cfg.instanceName); err != nil {
		return nil, err
	}
	queue := txqueue.NewQueue()

	rnd := cfg.rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	machine := statemachine.NewMachine(store, queue, rnd)
	queries := query.NewEngine()
	browses := browse.NewEngine()
	dispatcher := dispatch.NewDispatcher(store, queue, machine, queries, browses, dispatch.Config{
		SuppressOwnQueries:    cfg.suppressOwnQueries,
		RespondReverseQueries: cfg.respondReverseQueries,
	})

	sock := cfg.socket
	if sock == nil {
		var err error
		sock, err = transport.NewSocket()
		if err != nil {
			return nil, err
		}
	}
	watcher := cfg.watcher
	if watcher == nil {
		watcher = transport.NewInterfaceWatcher(defaultWatcherPollInterval)
	}
	clk := cfg.clock
	if clk == nil {
		clk = transport.NewSystemClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg: cfg, logger: logger,
		store: store, queue: queue, machine: machine, queries: queries, browses: browses, dispatcher: dispatcher,
		actions: action.NewQueue(cfg.actionQueueDepth),
		socket:  sock, watcher: watcher, clock: clk,
		ctx: ctx, cancel: cancel,
	}
	srv.executor = action.NewExecutor(srv.actions, srv.handle, srv.onTick)

	ticker := clk.NewTicker(cfg.timerTick)
	srv.wg.Add(3)
	go func() {
		defer srv.wg.Done()
		defer ticker.Stop()
		srv.executor.Run(ctx, ticker.C())
	}()
	go func() {
		defer srv.wg.Done()
		srv.pumpSocket()
	}()
	go func() {
		defer srv.wg.Done()
		srv.pumpWatcher()
	}()

	return srv, nil
}

// Close stops the executor after sending a goodbye for every owned service
// on every running interface, drains the socket and watcher pumps, and
// releases the underlying transport (spec.md §3's "destroyed by free:
// draining action queue, sending goodbye for all services").
func (s *Server) Close() error {
	err := s.actions.EnqueueWait(&action.Action{Kind: action.KindTaskStop, Payload: s.clock.Now()})
	s.cancel()
	s.socket.CloseAll()
	s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Server) pumpSocket() {
	recv := s.socket.Recv()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pkt, ok := <-recv:
			if !ok {
				return
			}
			s.actions.Enqueue(&action.Action{Kind: action.KindRxHandle, Payload: pkt})
		}
	}
}

func (s *Server) pumpWatcher() {
	events := s.watcher.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.actions.Enqueue(&action.Action{Kind: action.KindSystemEvent, Payload: ev})
		}
	}
}

// onTick is the executor's periodic wakeup (spec.md §4.7): it flushes due
// transmit-queue packets and advances the query engine's resend/timeout
// clock. Both already run on the executor's single goroutine, so this is a
// pair of plain function calls rather than two more round trips through
// the action queue (TX_HANDLE and SEARCH_SEND stay in action.Kind for
// parity with spec.md §4.7's list).
func (s *Server) onTick(now time.Time) {
	s.runScheduler(now)
	s.queries.Tick(now, func(q *query.Query) { s.sendQuery(q, now) })
}

func (s *Server) runScheduler(now time.Time) {
	for _, pkt := range s.queue.DueHead(now) {
		s.transmit(pkt, now)
	}
}

func (s *Server) transmit(pkt *txqueue.TxPacket, now time.Time) {
	defer s.queue.Remove(pkt)

	iface, err := net.InterfaceByName(pkt.PCBKey.Interface)
	if err != nil {
		s.logger.Debug("transmit: interface gone", zap.String("interface", pkt.PCBKey.Interface))
		return
	}
	data, err := wire.Encode(pkt.Msg)
	if err != nil {
		s.logger.Debug("transmit: encode failed", zap.Error(err))
		return
	}
	port := transport.Port
	if pkt.Unicast {
		port = pkt.DestPort
	}
	if err := s.socket.Write(iface, pkt.PCBKey.Family, pkt.Dest, port, data); err != nil {
		s.logger.Warn("transmit: write failed", zap.String("interface", pkt.PCBKey.Interface), zap.Error(err))
		return
	}

	switch pkt.Kind {
	case txqueue.KindProbe, txqueue.KindAnnounce:
		pcb := s.store.PCB(pkt.PCBKey)
		s.machine.AdvanceAfterSend(pcb, now)
	}
}

func (s *Server) handle(a *action.Action) {
	switch a.Kind {
	case action.KindSystemEvent:
		s.handleSystemEvent(a)
	case action.KindRxHandle:
		s.handleRx(a)
	case action.KindHostnameSet:
		s.handleHostnameSet(a)
	case action.KindInstanceSet:
		s.handleInstanceSet(a)
	case action.KindServiceAdd:
		s.handleServiceAdd(a)
	case action.KindServiceRemove:
		s.handleServiceRemove(a)
	case action.KindServiceRemoveAll:
		s.handleServiceRemoveAll(a)
	case action.KindServiceUpdate:
		s.handleServiceUpdate(a)
	case action.KindSearchAdd:
		s.handleSearchAdd(a)
	case action.KindSearchEnd:
		s.handleSearchEnd(a)
	case action.KindSearchResults:
		s.handleSearchResults(a)
	case action.KindBrowseAdd:
		s.handleBrowseAdd(a)
	case action.KindBrowseEnd:
		s.handleBrowseEnd(a)
	case action.KindDelegateHostnameAdd:
		s.handleDelegateAdd(a)
	case action.KindDelegateHostnameRemove:
		s.handleDelegateRemove(a)
	case action.KindDelegateHostnameSetAddr:
		s.handleDelegateSetAddr(a)
	case action.KindTaskStop:
		s.handleTaskStop(a)
	}
}

func (s *Server) handleTaskStop(a *action.Action) {
	now, _ := a.Payload.(time.Time)
	if now.IsZero() {
		now = s.clock.Now()
	}
	for _, pcb := range s.store.PCBs() {
		if pcb.State != model.PCBRunning {
			continue
		}
		for _, svc := range s.store.Services() {
			if svc.IsDelegated() {
				continue
			}
			s.machine.Goodbye(pcb, svc, now)
		}
	}
	s.runScheduler(now)
}

func (s *Server) handleRx(a *action.Action) {
	pkt, ok := a.Payload.(transport.Packet)
	if !ok {
		return
	}
	key := model.PCBKey{Interface: pkt.Interface, Family: pkt.Family}
	pcb, exists := s.lookupPCB(key)
	if !exists {
		return
	}
	s.dispatcher.HandlePacket(pkt.Data, pcb, pkt.Src, pkt.SrcPort, s.clock.Now())
}

func (s *Server) lookupPCB(key model.PCBKey) (*model.PCB, bool) {
	for _, pcb := range s.store.PCBs() {
		if pcb.Key == key {
			return pcb, true
		}
	}
	return nil, false
}
