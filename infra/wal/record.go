package wal

import "time"

// RecordType classifies a durable engine event.
type RecordType uint8

const (
	RecordOrderAccepted RecordType = iota
	RecordTrade
	RecordOrderCancelled
	RecordDeposit
)

func (t RecordType) String() string {
	switch t {
	case RecordOrderAccepted:
		return "ORDER_ACCEPTED"
	case RecordTrade:
		return "TRADE"
	case RecordOrderCancelled:
		return "ORDER_CANCELLED"
	case RecordDeposit:
		return "DEPOSIT"
	default:
		return "UNKNOWN"
	}
}

// Record is one immutable log entry. Seq is assigned by the WAL at append
// time and is strictly monotonic across segments.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, data []byte) *Record {
	return &Record{
		Type: t,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
