package domain

import "testing"

func TestClaimStatus(t *testing.T) {
	cases := map[ClaimStatus]struct{ valid, resolved bool }{
		ClaimInFlight:       {valid: true},
		ClaimDelivered:      {valid: true, resolved: true},
		ClaimRejected:       {valid: true, resolved: true},
		ClaimStatus("done"): {},
		ClaimStatus(""):     {},
	}
	for status, want := range cases {
		if status.Valid() != want.valid || status.Resolved() != want.resolved {
			t.Errorf("%q: valid=%v resolved=%v, want %+v", status, status.Valid(), status.Resolved(), want)
		}
	}
}

func TestDeliveryClaimMatches(t *testing.T) {
	claim := DeliveryClaim{PaymentID: "pay-1", CartID: "cart-1", UserID: "user-1"}
	if !claim.Matches("cart-1", "user-1") {
		t.Fatal("claim must match its own cart and buyer")
	}
	if claim.Matches("cart-2", "user-1") || claim.Matches("cart-1", "user-2") {
		t.Fatal("claim must not match another cart or buyer")
	}
}
