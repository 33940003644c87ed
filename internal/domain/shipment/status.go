package shipment

import "strings"

type Status string

const (
	StatusCreated        Status = "created"
	StatusReceived       Status = "received"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusException      Status = "exception"
	StatusReturned       Status = "returned"
	StatusCancelled      Status = "cancelled"
	StatusUnknown        Status = "unknown"
)

// Statuses lists every known status except StatusUnknown.
var Statuses = []Status{
	StatusCreated,
	StatusReceived,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusException,
	StatusReturned,
	StatusCancelled,
}

// carrierStatuses maps canonicalized carrier strings to the enum.
// Keys are matched exactly after canonicalize, never by substring.
var carrierStatuses = map[string]Status{
	"CREATED":          StatusCreated,
	"NEW":              StatusCreated,
	"BOOKED":           StatusCreated,
	"MANIFESTED":       StatusCreated,
	"LABEL_CREATED":    StatusCreated,
	"INFO_RECEIVED":    StatusCreated,
	"PENDING":          StatusCreated,
	"RECEIVED":         StatusReceived,
	"PICKED_UP":        StatusReceived,
	"PICKUP":           StatusReceived,
	"ACCEPTED":         StatusReceived,
	"IN_TRANSIT":       StatusInTransit,
	"INTRANSIT":        StatusInTransit,
	"TRANSIT":          StatusInTransit,
	"SHIPPED":          StatusInTransit,
	"DISPATCHED":       StatusInTransit,
	"ARRIVED_AT_HUB":   StatusInTransit,
	"DEPARTED_HUB":     StatusInTransit,
	"OUT_FOR_DELIVERY": StatusOutForDelivery,
	"OFD":              StatusOutForDelivery,
	"DELIVERED":        StatusDelivered,
	"DELIVERY":         StatusDelivered,
	"EXCEPTION":        StatusException,
	"FAILED_ATTEMPT":   StatusException,
	"DELIVERY_FAILED":  StatusException,
	"UNDELIVERED":      StatusException,
	"DELAYED":          StatusException,
	"ON_HOLD":          StatusException,
	"RETURNED":         StatusReturned,
	"RTO":              StatusReturned,
	"RETURN_TO_ORIGIN": StatusReturned,
	"RETURN_TO_SENDER": StatusReturned,
	"CANCELLED":        StatusCancelled,
	"CANCELED":         StatusCancelled,
	"VOIDED":           StatusCancelled,
}

var labels = map[Status]string{
	StatusCreated:        "Created",
	StatusReceived:       "Received",
	StatusInTransit:      "In transit",
	StatusOutForDelivery: "Out for delivery",
	StatusDelivered:      "Delivered",
	StatusException:      "Delivery exception",
	StatusReturned:       "Returned",
	StatusCancelled:      "Cancelled",
	StatusUnknown:        "Unknown",
}

var priorities = map[Status]int{
	StatusException:      10,
	StatusOutForDelivery: 7,
	StatusDelivered:      5,
}

// Normalize maps a raw carrier status to the enum. ok is false when the
// input is not in the mapping table; the status is then StatusUnknown.
func Normalize(raw string) (Status, bool) {
	st, ok := carrierStatuses[canonicalize(raw)]
	if !ok {
		return StatusUnknown, false
	}
	return st, true
}

// Parse accepts only enum values (case-insensitive).
func Parse(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, true
		}
	}
	return StatusUnknown, false
}

func (s Status) String() string { return string(s) }

func (s Status) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) Priority() int { return priorities[s] }

func canonicalize(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	t = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(t)
	for strings.Contains(t, "__") {
		t = strings.ReplaceAll(t, "__", "_")
	}
	return strings.Trim(t, "_")
}
