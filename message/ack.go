package message

// ackTable maps protocol ack codes to canonical statuses. Codes 4 and 5 both
// mean read: the network reports "played" separately for voice messages but
// downstream consumers treat both as read.
var ackTable = [...]Status{
	StatusError,
	StatusPending,
	StatusSent,
	StatusReceived,
	StatusRead,
	StatusRead,
}

// ParseAck translates a raw delivery-status ack code into a canonical
// Status. Total over all integers; anything outside the known 0..5 range
// maps to StatusError.
func ParseAck(ack int) Status {
	if ack < 0 || ack >= len(ackTable) {
		return StatusError
	}
	return ackTable[ack]
}
