package gateway

// SubscriptionPeriod maps a billing cycle in days onto the ISO-8601 period
// tag carrier APIs expect. Total over all inputs; unknown cycles fall back
// to P1D.
func SubscriptionPeriod(billingCycleDays int) string {
	switch billingCycleDays {
	case 1:
		return "P1D"
	case 7:
		return "P1W"
	case 30:
		return "P1M"
	case 180:
		return "P6M"
	case 365:
		return "P1Y"
	default:
		return "P1D"
	}
}
