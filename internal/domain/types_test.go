package domain

import "testing"

func TestCarrierSet(t *testing.T) {
	set := DefaultCarriers()
	if !set.Contains("UPS") || !set.Contains("usps") {
		t.Fatal("default carriers must include UPS and USPS, case-insensitively")
	}
	if set.Contains("FedEx") {
		t.Fatal("FedEx is not in the default set")
	}

	custom := NewCarrierSet("FedEx", " dhl ")
	if !custom.Contains("FEDEX") || !custom.Contains("DHL") {
		t.Fatal("custom carrier set must normalise names")
	}
}

func TestShipmentSameCarriers(t *testing.T) {
	shipment := Shipment{Carriers: []CarrierRecord{
		{Carrier: "UPS", TrackingNumber: "1Z999"},
		{Carrier: "USPS"},
	}}

	if !shipment.SameCarriers([]CarrierRecord{{Carrier: "ups", TrackingNumber: "1Z999"}, {Carrier: "USPS"}}) {
		t.Fatal("matching records should compare equal regardless of case")
	}
	if shipment.SameCarriers([]CarrierRecord{{Carrier: "UPS", TrackingNumber: "1Z999"}}) {
		t.Fatal("different record counts must not match")
	}
	if shipment.SameCarriers([]CarrierRecord{{Carrier: "UPS", TrackingNumber: "other"}, {Carrier: "USPS"}}) {
		t.Fatal("different tracking numbers must not match")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusPending, OrderStatusProcessing, OrderStatusShipped} {
		if status.Terminal() {
			t.Errorf("%s must not be terminal", status)
		}
	}
	for _, status := range []OrderStatus{OrderStatusDelivered, OrderStatusCancelled} {
		if !status.Terminal() {
			t.Errorf("%s must be terminal", status)
		}
	}
}

func TestValidCancelReason(t *testing.T) {
	if !ValidCancelReason("duplicate_order") {
		t.Fatal("duplicate_order is an accepted cancel reason")
	}
	if !ValidCancelReason("requested_by_customer") {
		t.Fatal("refund reasons are accepted for cancellation")
	}
	if ValidCancelReason("changed_my_mind") {
		t.Fatal("unknown reasons must be rejected")
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	reason := "duplicate"
	order := Order{
		ID:     "ord_1",
		Status: OrderStatusShipped,
		Items:  []LineItem{{SKU: "SKU-1", Quantity: 1, UnitPrice: Money(100)}},
		Shipment: &Shipment{ID: "shp_1", Carriers: []CarrierRecord{
			{Carrier: "UPS", TrackingNumber: "1Z999"},
		}},
		Ledger:       &PaymentLedger{CapturedAmount: Money(100)},
		CancelReason: &reason,
	}
	cloned := order.Clone()
	cloned.Items[0].Quantity = 5
	cloned.Shipment.Carriers[0].TrackingNumber = "changed"
	cloned.Ledger.CapturedAmount = Money(1)
	*cloned.CancelReason = "fraudulent"

	if order.Items[0].Quantity != 1 {
		t.Fatal("clone must not alias line items")
	}
	if order.Shipment.Carriers[0].TrackingNumber != "1Z999" {
		t.Fatal("clone must not alias the shipment carriers")
	}
	if order.Ledger.CapturedAmount != Money(100) {
		t.Fatal("clone must not alias the ledger")
	}
	if *order.CancelReason != "duplicate" {
		t.Fatal("clone must not alias the cancel reason")
	}
}
