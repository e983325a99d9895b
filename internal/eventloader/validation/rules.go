package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// Rule names, used in logs and as the metrics label of quarantined rows.
const (
	RuleStructure = "structure"
	RuleRequired  = "required"
	RuleEventType = "event_type"
	RulePrice     = "price"
	RuleTimestamp = "timestamp"
)

// Largest price representable by the sink's NUMERIC(10,2) column.
const maxStorablePrice = 99999999.99

// Rejection explains why a row was quarantined.
type Rejection struct {
	Rule   string
	Reason string
}

func (r *Rejection) Error() string {
	return r.Rule + ": " + r.Reason
}

func reject(rule string, format string, args ...interface{}) *Rejection {
	return &Rejection{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// candidate is a row on its way to becoming an event. Rules read fields and fill in event.
type candidate struct {
	row    *model.RawRow
	fields map[string]string
	event  model.Event
}

func (c *candidate) field(name string) string {
	return c.fields[name]
}

// rule is one validation step. Rules run in a fixed order and the first rejection wins.
type rule func(c *candidate) *Rejection

func checkStructure(c *candidate) *Rejection {
	if c.row.ParseErr != nil {
		return reject(RuleStructure, "%v", c.row.ParseErr)
	}
	return nil
}

func trimFields(c *candidate) *Rejection {
	c.fields = make(map[string]string, len(c.row.Values))
	for k, v := range c.row.Values {
		c.fields[k] = strings.TrimSpace(v)
	}
	c.event.UserId = c.field(model.ColumnUserId)
	c.event.ProductId = c.field(model.ColumnProductId)
	c.event.ProductName = c.field(model.ColumnProductName)
	c.event.ProductCategory = c.field(model.ColumnProductCategory)
	return nil
}

func checkRequired(required []string) rule {
	return func(c *candidate) *Rejection {
		for _, name := range required {
			if c.field(name) == "" {
				return reject(RuleRequired, "%s is empty", name)
			}
		}
		return nil
	}
}

func normaliseEventType(c *candidate) *Rejection {
	eventType := model.EventType(strings.ToLower(c.field(model.ColumnEventType)))
	if eventType != model.EventTypeView && eventType != model.EventTypePurchase {
		return reject(RuleEventType, "unknown event type %q", c.field(model.ColumnEventType))
	}
	c.event.EventType = eventType
	return nil
}

// checkPrice validates any supplied price, then applies the event type: views never carry a price and purchases
// must have one.
func checkPrice(minPrice float64) rule {
	floor := math.Max(0, minPrice)
	return func(c *candidate) *Rejection {
		raw := c.field(model.ColumnPrice)
		var price *float64
		if raw != "" {
			p, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
				return reject(RulePrice, "price %q is not a number", raw)
			}
			if p < floor {
				return reject(RulePrice, "price %v is below the minimum %v", p, floor)
			}
			if p > maxStorablePrice {
				return reject(RulePrice, "price %v exceeds %v", p, maxStorablePrice)
			}
			price = &p
		}

		switch c.event.EventType {
		case model.EventTypeView:
			c.event.Price = nil
		case model.EventTypePurchase:
			if price == nil {
				return reject(RulePrice, "purchase has no price")
			}
			c.event.Price = price
		}
		return nil
	}
}

// checkTimestamp parses the event timestamp and rejects events later than now plus tolerance.
func checkTimestamp(now func() time.Time, tolerance time.Duration) rule {
	return func(c *candidate) *Rejection {
		raw := c.field(model.ColumnEventTimestamp)
		ts, err := time.ParseInLocation(model.TimestampLayout, raw, time.UTC)
		if err != nil {
			return reject(RuleTimestamp, "cannot parse %q as %s", raw, model.TimestampLayout)
		}
		if limit := now().UTC().Add(tolerance); ts.After(limit) {
			return reject(RuleTimestamp, "%s is after %s", raw, limit.Format(model.TimestampLayout))
		}
		c.event.EventTimestamp = ts
		return nil
	}
}

func assignEventId(c *candidate) *Rejection {
	c.event.EventId = model.EventID(c.event.UserId, c.event.ProductId, c.event.EventTimestamp)
	return nil
}
