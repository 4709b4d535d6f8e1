// Package sumeragi implements the leader-based BFT consensus state
// machine: topology/role assignment, the per-height propose/vote/commit
// happy path, timeouts and view changes, and soft-fork handling for the
// narrow window before a peer has itself committed.
package sumeragi

import "iroha-peer/internal/datamodel"

// Role is a peer's position in one view's ordered topology.
type Role int

const (
	RoleLeader Role = iota
	RoleValidatingPeer
	RoleProxyTail
	RoleObservingPeer
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "Leader"
	case RoleValidatingPeer:
		return "ValidatingPeer"
	case RoleProxyTail:
		return "ProxyTail"
	case RoleObservingPeer:
		return "ObservingPeer"
	default:
		return "Unknown"
	}
}

// Topology is the ordered peer list for one view, plus the derived role
// boundaries. Role assignment is a pure function of (peer_set,
// view_change_index), which is why Topology takes no mutable state.
type Topology struct {
	order []datamodel.PeerId
	f     int
}

// MaxFaults returns f = (n-1)/3, the maximum number of Byzantine peers this
// topology tolerates.
func (t Topology) MaxFaults() int { return t.f }

// Len returns the number of peers in the topology.
func (t Topology) Len() int { return len(t.order) }

// ComputeTopology derives the ordered topology for viewChangeIndex from
// the trusted peer set. peers must already be in canonical order (sorted
// by PeerId string form by the caller); rotation is a simple left-rotate
// by viewChangeIndex, a round-robin leader rotation.
func ComputeTopology(peers []datamodel.PeerId, viewChangeIndex uint32) Topology {
	n := len(peers)
	if n == 0 {
		return Topology{}
	}
	shift := int(viewChangeIndex) % n
	order := make([]datamodel.PeerId, n)
	for i := range order {
		order[i] = peers[(i+shift)%n]
	}
	return Topology{order: order, f: (n - 1) / 3}
}

// RoleOf reports peer's role in t.
func (t Topology) RoleOf(peer datamodel.PeerId) Role {
	for i, p := range t.order {
		if p == peer {
			return t.roleAt(i)
		}
	}
	return RoleObservingPeer
}

func (t Topology) roleAt(i int) Role {
	switch {
	case i == 0:
		return RoleLeader
	case i <= t.f:
		return RoleValidatingPeer
	case i == t.votingPrefixEnd():
		return RoleProxyTail
	default:
		return RoleObservingPeer
	}
}

// votingPrefixEnd is the index of the last member of the voting prefix
// (leader + f validators + proxy tail = 2f+1 peers), i.e. the ProxyTail's
// position.
func (t Topology) votingPrefixEnd() int { return 2 * t.f }

// Leader returns the peer assigned RoleLeader.
func (t Topology) Leader() datamodel.PeerId { return t.order[0] }

// ProxyTail returns the peer assigned RoleProxyTail.
func (t Topology) ProxyTail() datamodel.PeerId { return t.order[t.votingPrefixEnd()] }

// Validators returns the peers assigned RoleValidatingPeer, in topology
// order.
func (t Topology) Validators() []datamodel.PeerId {
	if t.f == 0 {
		return nil
	}
	return append([]datamodel.PeerId(nil), t.order[1:t.f+1]...)
}

// VotingPrefix returns leader + validators + proxy tail: the 2f+1 peers
// whose signatures form a valid commit certificate.
func (t Topology) VotingPrefix() []datamodel.PeerId {
	return append([]datamodel.PeerId(nil), t.order[:t.votingPrefixEnd()+1]...)
}

// QuorumSize is 2f+1, the number of distinct signatures a commit
// certificate or view-change proof must carry.
func (t Topology) QuorumSize() int { return 2*t.f + 1 }

// IsLeader, IsValidator and IsProxyTail answer a specific peer's
// involvement directly, rather than through RoleOf's single-label
// priority order, so a degenerate n=1 topology (f=0) can still have its
// one peer act as leader, validator and proxy tail all at once instead of
// RoleOf's first-match-wins Leader label hiding the other two.
func (t Topology) IsLeader(peer datamodel.PeerId) bool { return len(t.order) > 0 && t.order[0] == peer }

func (t Topology) IsValidator(peer datamodel.PeerId) bool {
	for _, p := range t.Validators() {
		if p == peer {
			return true
		}
	}
	return false
}

func (t Topology) IsProxyTail(peer datamodel.PeerId) bool {
	return len(t.order) > t.votingPrefixEnd() && t.order[t.votingPrefixEnd()] == peer
}

// IsVoter reports whether peer participates in the voting prefix at all
// (leader, validator, or proxy tail).
func (t Topology) IsVoter(peer datamodel.PeerId) bool {
	return t.IsLeader(peer) || t.IsValidator(peer) || t.IsProxyTail(peer)
}
