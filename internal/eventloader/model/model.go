package model

import (
	"crypto/md5"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeView     EventType = "view"
	EventTypePurchase EventType = "purchase"
)

// Column names of the input files, in their fixed order.
const (
	ColumnEventId         = "event_id"
	ColumnUserId          = "user_id"
	ColumnProductId       = "product_id"
	ColumnProductName     = "product_name"
	ColumnProductCategory = "product_category"
	ColumnEventType       = "event_type"
	ColumnPrice           = "price"
	ColumnEventTimestamp  = "event_timestamp"
)

var Columns = []string{
	ColumnEventId,
	ColumnUserId,
	ColumnProductId,
	ColumnProductName,
	ColumnProductCategory,
	ColumnEventType,
	ColumnPrice,
	ColumnEventTimestamp,
}

// TimestampLayout is the only accepted event_timestamp format. Timestamps carry no offset and are read as UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// Event is a validated record, ready to be written to the sink.
type Event struct {
	EventId         uuid.UUID
	UserId          string
	ProductId       string
	ProductName     string
	ProductCategory string
	EventType       EventType
	// Nil for views
	Price          *float64
	EventTimestamp time.Time
}

// RawRow is one data row of an input file, keyed by column name as given in the file header.
type RawRow struct {
	File string
	// 1-based line number within File, counting the header
	Line   int
	Values map[string]string
	// Unparsed content, kept for quarantine logging
	Raw string
	// Set when the row could not be read structurally
	ParseErr error
}

// Batch is an ordered set of new files that are processed together.
type Batch struct {
	Id    int64
	Files []string
}

func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Files) == 0
}

// EventID derives the deterministic identifier of an event: the MD5 digest of "<user>_<product>_<timestamp>"
// interpreted as the bytes of a UUID. The timestamp is rendered with TimestampLayout in UTC.
func EventID(userId string, productId string, timestamp time.Time) uuid.UUID {
	key := fmt.Sprintf("%s_%s_%s", userId, productId, timestamp.UTC().Format(TimestampLayout))
	sum := md5.Sum([]byte(key))
	id, _ := uuid.FromBytes(sum[:])
	return id
}
