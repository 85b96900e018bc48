package services

import "testing"

func TestDeliveryPricerCharge(t *testing.T) {
	pricer := NewDeliveryPricer(10000, 3000)

	cases := []struct {
		name     string
		subtotal int64
		want     int64
	}{
		{name: "below threshold pays the flat charge", subtotal: 8000, want: 3000},
		{name: "just under threshold", subtotal: 9999, want: 3000},
		{name: "at threshold delivers free", subtotal: 10000, want: 0},
		{name: "above threshold delivers free", subtotal: 15000, want: 0},
		{name: "empty subtotal owes nothing", subtotal: 0, want: 0},
		{name: "negative subtotal owes nothing", subtotal: -50, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pricer.Charge(tc.subtotal); got != tc.want {
				t.Fatalf("Charge(%d) = %d, want %d", tc.subtotal, got, tc.want)
			}
		})
	}
}

func TestSubtotalOfIgnoresNonPositiveLineTotals(t *testing.T) {
	lines := []CheckoutSessionLine{
		{LineTotal: 2500},
		{LineTotal: 0},
		{LineTotal: 1250},
	}
	if got := subtotalOf(lines); got != 3750 {
		t.Fatalf("subtotalOf = %d, want 3750", got)
	}
}
