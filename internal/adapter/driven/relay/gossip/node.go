package gossip

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

const connectTimeout = 10 * time.Second

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
	logging.SetLogLevel("mdns", "warn")
}

// Node is a libp2p host running GossipSub. Parties on the same LAN find
// each other over mDNS, so the relay needs no server at all.
type Node struct {
	host host.Host
	ps   *pubsub.PubSub
	mdns mdns.Service
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debug().Err(err).Str("peer", pi.ID.String()).Msg("mDNS peer unreachable")
		return
	}
	log.Info().Str("peer", pi.ID.String()).Msg("mDNS peer connected")
}

// NewNode listens on listenAddr, a multiaddr such as /ip4/0.0.0.0/tcp/4001.
// An empty mdnsTag disables LAN discovery.
func NewNode(ctx context.Context, listenAddr, mdnsTag string) (*Node, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	n := &Node{host: h}
	if mdnsTag != "" {
		n.mdns = mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h})
		if err := n.mdns.Start(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("mdns: %w", err)
		}
	}

	n.ps, err = pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}
	log.Info().Str("peer_id", h.ID().String()).Strs("addrs", n.Addrs()).Msg("Gossip node started")
	return n, nil
}

// Addrs lists the full dialable addresses of the node.
func (n *Node) Addrs() []string {
	var out []string
	for _, a := range n.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return out
}

// Connect dials a peer by full multiaddr, for networks without mDNS.
func (n *Node) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("parse %q: %w", addr, err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return fmt.Errorf("peer info %q: %w", addr, err)
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return n.host.Connect(ctx, *pi)
}

// Join returns the broadcast channel named topic.
func (n *Node) Join(topic string) (*Topic, error) {
	t, err := n.ps.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join %q: %w", topic, err)
	}
	return &Topic{topic: t}, nil
}

func (n *Node) Close() error {
	if n.mdns != nil {
		_ = n.mdns.Close()
	}
	return n.host.Close()
}
