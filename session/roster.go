package session

import (
	"github.com/samber/lo"

	"lanshare/models"
)

// Roster is the ordered set of peers connected to the relay, self included.
//
// At most one entry exists per id. Not safe for concurrent use; the session
// loop owns it.
type Roster struct {
	selfID string
	peers  []models.PeerInfo
}

// NewRoster returns an empty roster for the given local client id.
func NewRoster(selfID string) *Roster {
	return &Roster{selfID: selfID}
}

// Replace installs a full sync. A later duplicate id replaces an earlier entry in place.
func (r *Roster) Replace(peers []models.PeerInfo) {
	next := make([]models.PeerInfo, 0, len(peers))
	for _, peer := range peers {
		next = upsert(next, r.mark(peer))
	}
	r.peers = next
}

// Join adds a peer, or updates it in place when the id is already present.
// It reports whether the peer was new.
func (r *Roster) Join(peer models.PeerInfo) bool {
	_, exists := r.Get(peer.ID)
	r.peers = upsert(r.peers, r.mark(peer))
	return !exists
}

// Leave removes a peer and returns it. Unknown ids are ignored.
func (r *Roster) Leave(peerID string) (models.PeerInfo, bool) {
	peer, idx, ok := lo.FindIndexOf(r.peers, func(p models.PeerInfo) bool { return p.ID == peerID })
	if !ok {
		return models.PeerInfo{}, false
	}
	r.peers = append(r.peers[:idx:idx], r.peers[idx+1:]...)
	return peer, true
}

// Get looks up a peer by id.
func (r *Roster) Get(peerID string) (models.PeerInfo, bool) {
	return lo.Find(r.peers, func(p models.PeerInfo) bool { return p.ID == peerID })
}

// Self returns the local client's own entry once the relay has listed it.
func (r *Roster) Self() (models.PeerInfo, bool) {
	return r.Get(r.selfID)
}

// Peers returns a copy in insertion order.
func (r *Roster) Peers() []models.PeerInfo {
	return append([]models.PeerInfo(nil), r.peers...)
}

// Others returns every peer except self.
func (r *Roster) Others() []models.PeerInfo {
	return lo.Reject(r.peers, func(p models.PeerInfo, _ int) bool { return p.IsSelf })
}

// Len returns the number of peers.
func (r *Roster) Len() int {
	return len(r.peers)
}

func (r *Roster) mark(peer models.PeerInfo) models.PeerInfo {
	peer.IsSelf = peer.ID == r.selfID
	return peer
}

func upsert(peers []models.PeerInfo, peer models.PeerInfo) []models.PeerInfo {
	_, idx, ok := lo.FindIndexOf(peers, func(p models.PeerInfo) bool { return p.ID == peer.ID })
	if ok {
		peers[idx] = peer
		return peers
	}
	return append(peers, peer)
}
