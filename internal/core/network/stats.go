package network

// Stats counts message outcomes.
type Stats struct {
	Sent      int `json:"messagesSent"`
	Delivered int `json:"messagesDelivered"`
	Lost      int `json:"messagesLost"`
}

// Add returns the element-wise sum of two stats.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Sent:      s.Sent + o.Sent,
		Delivered: s.Delivered + o.Delivered,
		Lost:      s.Lost + o.Lost,
	}
}

// DeliveryRate returns delivered/sent as a percentage, or 100 when nothing was sent.
func (s Stats) DeliveryRate() float64 {
	if s.Sent == 0 {
		return 100
	}
	return float64(s.Delivered) / float64(s.Sent) * 100
}

// RoundStats accounts one voting phase: every registered validator is
// addressed, only validators able to vote receive.
func RoundStats(total, votable int) Stats {
	return Stats{
		Sent:      total,
		Delivered: votable,
		Lost:      total - votable,
	}
}
