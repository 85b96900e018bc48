package services

// DeliveryPricer derives the delivery charge from the order subtotal: a flat
// surcharge below the free-delivery threshold, free at or above it. The
// derived value is for display; once an order exists the order service's
// total is authoritative.
type DeliveryPricer struct {
	freeThreshold int64
	charge        int64
}

// NewDeliveryPricer constructs a pricer from the configured threshold rule.
func NewDeliveryPricer(freeThreshold, charge int64) DeliveryPricer {
	return DeliveryPricer{freeThreshold: freeThreshold, charge: charge}
}

// Charge returns the delivery charge for the given subtotal.
func (p DeliveryPricer) Charge(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	if subtotal < p.freeThreshold {
		return p.charge
	}
	return 0
}

// subtotalOf sums the frozen line totals of a checkout session.
func subtotalOf(lines []CheckoutSessionLine) int64 {
	var subtotal int64
	for _, line := range lines {
		if line.LineTotal > 0 {
			subtotal += line.LineTotal
		}
	}
	return subtotal
}
