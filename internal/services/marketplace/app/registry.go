package server

import (
	"encoding/json"
	"sync"
)

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// subscriberHub tracks the live channels of each identity. One identity may
// hold several channels at once when connected from multiple devices.
type subscriberHub struct {
	mu    sync.Mutex
	peers map[string]map[*wsPeer]struct{}
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{peers: make(map[string]map[*wsPeer]struct{})}
}

func (h *subscriberHub) subscribe(identity string, peer *wsPeer) {
	if identity == "" || peer == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.peers[identity]
	if !ok {
		peers = make(map[*wsPeer]struct{})
		h.peers[identity] = peers
	}
	peers[peer] = struct{}{}
}

func (h *subscriberHub) unsubscribe(identity string, peer *wsPeer) {
	if identity == "" || peer == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.peers[identity]
	if !ok {
		return
	}
	delete(peers, peer)
	if len(peers) == 0 {
		delete(h.peers, identity)
	}
}

// channelsFor snapshots an identity's live channels so pushes happen outside
// the hub lock.
func (h *subscriberHub) channelsFor(identity string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers := h.peers[identity]
	if len(peers) == 0 {
		return nil
	}
	snapshot := make([]*wsPeer, 0, len(peers))
	for peer := range peers {
		snapshot = append(snapshot, peer)
	}
	return snapshot
}
