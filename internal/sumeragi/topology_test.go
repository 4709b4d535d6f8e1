package sumeragi

import (
	"testing"

	"iroha-peer/internal/datamodel"
)

func peerSet(n int) []datamodel.PeerId {
	peers := make([]datamodel.PeerId, n)
	for i := range peers {
		var b [32]byte
		b[0] = byte(i + 1)
		peers[i] = datamodel.PublicKey{Algorithm: "ed25519", Bytes: b}
	}
	return peers
}

func TestComputeTopologyQuorum(t *testing.T) {
	cases := []struct {
		n, f, quorum int
	}{
		{1, 0, 1},
		{4, 1, 3},
		{7, 2, 5},
		{10, 3, 7},
	}
	for _, c := range cases {
		topo := ComputeTopology(peerSet(c.n), 0)
		if topo.MaxFaults() != c.f {
			t.Fatalf("n=%d: expected f=%d, got %d", c.n, c.f, topo.MaxFaults())
		}
		if topo.QuorumSize() != c.quorum {
			t.Fatalf("n=%d: expected quorum=%d, got %d", c.n, c.quorum, topo.QuorumSize())
		}
	}
}

func TestComputeTopologyRotatesByViewChangeIndex(t *testing.T) {
	peers := peerSet(4)
	topo0 := ComputeTopology(peers, 0)
	topo1 := ComputeTopology(peers, 1)

	if topo0.Leader() != peers[0] {
		t.Fatalf("view 0: expected leader %v, got %v", peers[0], topo0.Leader())
	}
	if topo1.Leader() != peers[1] {
		t.Fatalf("view 1: expected leader %v, got %v", peers[1], topo1.Leader())
	}
	// a full rotation through n views returns to the original leader
	topoN := ComputeTopology(peers, uint32(len(peers)))
	if topoN.Leader() != topo0.Leader() {
		t.Fatalf("expected rotation to wrap after n views")
	}
}

func TestTopologyRoleBooleansAgreeWithRoleOf(t *testing.T) {
	peers := peerSet(7)
	topo := ComputeTopology(peers, 0)

	for _, p := range peers {
		role := topo.RoleOf(p)
		switch {
		case topo.IsLeader(p):
			if role != RoleLeader {
				t.Fatalf("peer %v: IsLeader true but RoleOf=%v", p, role)
			}
		case topo.IsValidator(p):
			if role != RoleValidatingPeer {
				t.Fatalf("peer %v: IsValidator true but RoleOf=%v", p, role)
			}
		case topo.IsProxyTail(p):
			if role != RoleProxyTail {
				t.Fatalf("peer %v: IsProxyTail true but RoleOf=%v", p, role)
			}
		default:
			if role != RoleObservingPeer {
				t.Fatalf("peer %v: no role boolean true but RoleOf=%v", p, role)
			}
		}
		if topo.IsVoter(p) != (topo.IsLeader(p) || topo.IsValidator(p) || topo.IsProxyTail(p)) {
			t.Fatalf("peer %v: IsVoter inconsistent with component booleans", p)
		}
	}
}

func TestTopologyDegenerateSinglePeerIsEverything(t *testing.T) {
	peers := peerSet(1)
	topo := ComputeTopology(peers, 0)

	if !topo.IsLeader(peers[0]) || !topo.IsProxyTail(peers[0]) || !topo.IsVoter(peers[0]) {
		t.Fatalf("single-peer topology must have its one peer act as leader, proxy tail and voter at once")
	}
	if topo.QuorumSize() != 1 {
		t.Fatalf("expected quorum 1 for n=1, got %d", topo.QuorumSize())
	}
}

func TestComputeTopologyEmptyPeerSet(t *testing.T) {
	topo := ComputeTopology(nil, 0)
	if topo.Len() != 0 {
		t.Fatalf("expected empty topology for empty peer set")
	}
}

func TestComputeTopologyLargeViewIndexWraps(t *testing.T) {
	// view_change_index is allowed to exceed len(peers); ComputeTopology
	// must still produce a valid rotation rather than panicking.
	peers := peerSet(3)
	topo := ComputeTopology(peers, 100)
	if topo.Len() != 3 {
		t.Fatalf("expected topology length preserved under large view index")
	}
}
