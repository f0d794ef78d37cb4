package testutil

import (
	"strconv"

	"github.com/cassiomorais/ordercompletion/internal/domain/order"
)

// TestPaymentMethod is the payment method the fixtures use for scheduled orders.
const TestPaymentMethod = "aco"

func NewTestOrder(id, purchaseRef string, rescheduleCount int) *order.Order {
	o := order.New(id, TestPaymentMethod)
	o.Status = order.StatusProcessing
	if purchaseRef != "" {
		o.Metadata[order.MetaPurchaseReference] = purchaseRef
	}
	if rescheduleCount > 0 {
		o.Metadata[order.MetaRescheduleCount] = strconv.Itoa(rescheduleCount)
	}
	return o
}

func NewOnHoldOrder(id, purchaseRef string, rescheduleCount int) *order.Order {
	o := NewTestOrder(id, purchaseRef, rescheduleCount)
	o.Status = order.StatusOnHold
	return o
}

func NewOrderWithStatus(id string, status order.Status) *order.Order {
	o := NewTestOrder(id, "ref-"+id, 0)
	o.Status = status
	return o
}
