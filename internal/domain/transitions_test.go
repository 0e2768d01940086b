package domain

import "testing"

func TestCanTransitionAllowsDocumentedMoves(t *testing.T) {
	allowed := [][2]string{
		{OrderRequested, OrderApproved},
		{OrderRequested, OrderRejected},
		{OrderApproved, OrderOnHold},
		{OrderOnHold, OrderApproved},
		{OrderOnHold, OrderRejected},
		{OrderApproved, OrderMasterOrdered},
		{OrderMasterOrdered, OrderShipped},
		{OrderShipped, OrderReceived},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}
}

func TestCanTransitionRejectsIllegalJumps(t *testing.T) {
	denied := [][2]string{
		{OrderRequested, OrderReceived},
		{OrderRequested, OrderShipped},
		{OrderRejected, OrderApproved},
		{OrderReceived, OrderShipped},
		{OrderShipped, OrderApproved},
		{OrderOnHold, OrderMasterOrdered},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []string{OrderReceived, OrderRejected} {
		if moves := orderTransitions[terminal]; len(moves) != 0 {
			t.Fatalf("expected %s to be terminal, found exits %v", terminal, moves)
		}
	}
}
