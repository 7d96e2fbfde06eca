// Package p2p runs the node's libp2p swarm: identity, listener bring-up,
// mDNS discovery, on-demand dialing and recording of every peer observation.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	// DefaultListenAddr asks the OS for any free TCP port on all interfaces.
	DefaultListenAddr = "/ip4/0.0.0.0/tcp/0"
	// DialQueueSize bounds the dial queue; senders block when it is full.
	DialQueueSize = 32

	eventBufferSize = 256
)

var (
	// ErrNoPeerID is logged for queued addresses without a /p2p/ component.
	ErrNoPeerID = errors.New("multiaddr has no /p2p/ component")
	// ErrClosed is returned by Dial once the engine has stopped.
	ErrClosed = errors.New("peer engine closed")
)

// PeerStore receives peer observations.
type PeerStore interface {
	UpsertPeer(peerID, lastAddr string, lastSeen int64) error
	UpsertPeerAddr(peerID, addr string, lastSeen int64) error
}

// Observation kinds.
const (
	KindDialed     = "dialed"
	KindDiscovered = "discovered"
	KindConnected  = "connected"
)

// Observation is one recorded sighting of a peer at an address.
type Observation struct {
	Kind   string `json:"kind"`
	PeerID string `json:"peer_id"`
	Addr   string `json:"addr"`
	TS     int64  `json:"ts"`
}

// Observer is notified after every recorded observation.
type Observer interface {
	Observe(Observation)
}

// Config holds peer engine settings. Zero values get defaults.
type Config struct {
	ListenAddr string
	EnableMDNS bool
	Observer   Observer
	Now        func() time.Time
	Logger     *slog.Logger
}

// Engine owns the libp2p host and the single goroutine that serialises dial
// requests and swarm events.
type Engine struct {
	host   host.Host
	store  PeerStore
	cfg    Config
	log    *slog.Logger
	addrs  AddrSet
	dialq  chan string
	events chan any
	mdns   mdns.Service

	done      chan struct{}
	closeOnce sync.Once
}

type listenEvent struct {
	addr ma.Multiaddr
}

type discoveredEvent struct {
	info peer.AddrInfo
}

type connectedEvent struct {
	peer peer.ID
	addr ma.Multiaddr
	dir  network.Direction
}

type disconnectedEvent struct {
	peer peer.ID
}

type dialErrorEvent struct {
	peer peer.ID
	addr string
	err  error
}

// New builds a host on priv with TCP + Noise + Yamux and the ping protocol.
// Nothing listens until Start is called.
func New(priv crypto.PrivKey, store PeerStore, cfg Config) (*Engine, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.NoListenAddrs,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.Ping(true),
	)
	if err != nil {
		return nil, fmt.Errorf("build libp2p host: %w", err)
	}

	e := &Engine{
		host:   h,
		store:  store,
		cfg:    cfg,
		log:    cfg.Logger.With("component", "p2p"),
		dialq:  make(chan string, DialQueueSize),
		events: make(chan any, eventBufferSize),
		done:   make(chan struct{}),
	}
	h.Network().Notify(&network.NotifyBundle{
		ListenF: func(_ network.Network, a ma.Multiaddr) {
			e.push(listenEvent{addr: a})
		},
		ConnectedF: func(_ network.Network, c network.Conn) {
			e.push(connectedEvent{peer: c.RemotePeer(), addr: c.RemoteMultiaddr(), dir: c.Stat().Direction})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			e.push(disconnectedEvent{peer: c.RemotePeer()})
		},
	})
	return e, nil
}

// Start brings up the listener, starts mDNS if enabled and runs the event
// loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.listen(); err != nil {
		return err
	}
	if e.cfg.EnableMDNS {
		e.mdns = mdns.NewMdnsService(e.host, mdns.ServiceName, e)
		if err := e.mdns.Start(); err != nil {
			return fmt.Errorf("start mdns: %w", err)
		}
	}
	go e.run(ctx)
	return nil
}

// listen binds the configured address, retrying once on a fresh OS-chosen
// port when the address is taken.
func (e *Engine) listen() error {
	addr, err := ma.NewMultiaddr(e.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("p2p listen addr %q: %w", e.cfg.ListenAddr, err)
	}
	err = e.host.Network().Listen(addr)
	if err == nil {
		return nil
	}
	if !isAddrInUse(err) {
		return fmt.Errorf("p2p listen error: %w", err)
	}

	e.log.Warn("p2p listen addr in use, retrying on random port", "addr", addr.String())
	fallback, _ := ma.NewMultiaddr(DefaultListenAddr)
	if err := e.host.Network().Listen(fallback); err != nil {
		return fmt.Errorf("p2p listen error: %w", err)
	}
	return nil
}

// isAddrInUse matches EADDRINUSE both wrapped and flattened into a message,
// since the swarm joins per-address listen errors as text.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}

// Dial queues addr for dialing. It blocks while the queue is full.
func (e *Engine) Dial(ctx context.Context, addr string) error {
	select {
	case e.dialq <- addr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// HandlePeerFound implements mdns.Notifee.
func (e *Engine) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == e.host.ID() {
		return
	}
	e.push(discoveredEvent{info: info})
}

// PeerID returns the node's textual peer id.
func (e *Engine) PeerID() string { return e.host.ID().String() }

// ListenAddrs returns the textual listener addresses seen so far.
func (e *Engine) ListenAddrs() []string { return e.addrs.List() }

// FirstListenAddr returns the earliest known listener address.
func (e *Engine) FirstListenAddr() (string, bool) { return e.addrs.First() }

// Connected returns the number of peers with an open connection.
func (e *Engine) Connected() int { return len(e.host.Network().Peers()) }

// Close stops the event loop and shuts the host down.
func (e *Engine) Close() error {
	e.stop()
	if e.mdns != nil {
		e.mdns.Close()
	}
	return e.host.Close()
}

func (e *Engine) stop() {
	e.closeOnce.Do(func() { close(e.done) })
}

// push hands a swarm callback over to the event loop.
func (e *Engine) push(ev any) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case addr := <-e.dialq:
			e.handleDial(ctx, addr)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleDial(ctx context.Context, raw string) {
	m, err := ma.NewMultiaddr(raw)
	if err != nil {
		e.log.Warn("invalid multiaddr", "addr", raw, "err", err)
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		e.log.Warn("p2p dial error", "addr", m.String(), "err", ErrNoPeerID)
		return
	}
	e.record(KindDialed, info.ID.String(), m.String())

	go func() {
		if err := e.host.Connect(ctx, *info); err != nil {
			e.push(dialErrorEvent{peer: info.ID, addr: m.String(), err: err})
		}
	}()
}

func (e *Engine) handleEvent(ev any) {
	switch ev := ev.(type) {
	case listenEvent:
		e.handleListen(ev.addr)
	case discoveredEvent:
		for _, a := range ev.info.Addrs {
			e.record(KindDiscovered, ev.info.ID.String(), a.String())
		}
	case connectedEvent:
		e.log.Info("p2p connected", "peer", ev.peer.String(), "direction", ev.dir.String())
		e.record(KindConnected, ev.peer.String(), ev.addr.String())
	case disconnectedEvent:
		e.log.Info("p2p disconnected", "peer", ev.peer.String())
	case dialErrorEvent:
		e.log.Warn("p2p outgoing conn error", "peer", ev.peer.String(), "addr", ev.addr, "err", ev.err)
	}
}

// handleListen records a new listener. Wildcard listeners are expanded to the
// concrete interface addresses they cover.
func (e *Engine) handleListen(addr ma.Multiaddr) {
	addrs, err := e.host.Network().InterfaceListenAddresses()
	if err != nil || len(addrs) == 0 {
		addrs = []ma.Multiaddr{addr}
	}
	for _, a := range addrs {
		if e.addrs.Add(a.String()) {
			e.log.Info("p2p listening", "addr", a.String())
		}
	}
}

// record writes the observation to the store and notifies the observer.
// Store errors are logged and dropped.
func (e *Engine) record(kind, peerID, addr string) {
	ts := e.cfg.Now().Unix()
	if err := e.store.UpsertPeer(peerID, addr, ts); err != nil {
		e.log.Warn("record peer", "peer", peerID, "err", err)
	}
	if err := e.store.UpsertPeerAddr(peerID, addr, ts); err != nil {
		e.log.Warn("record peer addr", "peer", peerID, "addr", addr, "err", err)
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer.Observe(Observation{Kind: kind, PeerID: peerID, Addr: addr, TS: ts})
	}
}
