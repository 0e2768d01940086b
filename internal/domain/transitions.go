package domain

// orderTransitions is the closed set of legal purchase-order status moves.
// RECEIVED and REJECTED are terminal.
var orderTransitions = map[string][]string{
	OrderRequested:     {OrderApproved, OrderRejected},
	OrderApproved:      {OrderOnHold, OrderRejected, OrderConsolidated, OrderMasterOrdered},
	OrderOnHold:        {OrderApproved, OrderRejected},
	OrderConsolidated:  {OrderMasterOrdered, OrderReceived},
	OrderMasterOrdered: {OrderShipped, OrderReceived},
	OrderShipped:       {OrderReceived},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReceivableStatuses lists the statuses from which inward receiving is accepted.
func ReceivableStatuses() []string {
	return []string{OrderConsolidated, OrderMasterOrdered, OrderShipped}
}

// ValidPaymentMode reports whether the given payment mode is recognized.
func ValidPaymentMode(mode string) bool {
	switch mode {
	case PaymentUPI, PaymentCard, PaymentCash, PaymentNetBanking, PaymentPOSTerminal:
		return true
	}
	return false
}
