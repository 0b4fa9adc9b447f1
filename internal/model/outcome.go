package model

// Reason classifies how a bridged transfer ended.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonReceiveTimeout
	ReasonTransferError
	ReasonResourceExhausted
)

// String returns the metric/log label for r.
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonReceiveTimeout:
		return "receive_timeout"
	case ReasonTransferError:
		return "transfer_error"
	case ReasonResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Outcome is the result of one bridged transfer.
type Outcome struct {
	Reason Reason
	Err    error
}

// Success reports whether the captured response should be relayed.
func (o Outcome) Success() bool {
	return o.Reason == ReasonOK
}
