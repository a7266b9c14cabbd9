package trade

// Status is what a player sees when polling a trade.
type Status struct {
	Other         *string  `json:"other"`
	MyOffer       []string `json:"myOffer"`
	OtherOffer    []string `json:"otherOffer"`
	IAccepted     bool     `json:"iAccepted"`
	OtherAccepted bool     `json:"otherAccepted"`
	BothAccepted  bool     `json:"bothAccepted"`
}

// Paired reports whether a and b target each other. A player targeting
// itself is never paired.
func Paired(a, b *Session) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Player == b.Player || a.Target == "" {
		return false
	}
	return a.Target == b.Player && b.Target == a.Player
}

// NewStatus builds the status of me given the session of its target, if
// any. them may be nil.
func NewStatus(me, them *Session) *Status {
	st := &Status{
		MyOffer:    me.OfferItems(),
		OtherOffer: []string{},
		IAccepted:  me.Accepted,
	}
	if !Paired(me, them) {
		return st
	}
	other := them.Player
	st.Other = &other
	st.OtherOffer = them.OfferItems()
	st.OtherAccepted = them.Accepted
	st.BothAccepted = me.Accepted && them.Accepted
	return st
}
