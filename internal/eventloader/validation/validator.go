package validation

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// Validator turns raw rows into events. It holds no mutable state and is safe for concurrent use.
type Validator struct {
	rules []rule
}

func New(config configuration.ValidationConfig, clock clock.PassiveClock) *Validator {
	return &Validator{
		rules: []rule{
			checkStructure,
			trimFields,
			checkRequired(config.RequiredFields),
			normaliseEventType,
			checkPrice(config.MinPrice),
			checkTimestamp(clock.Now, config.FutureTolerance()),
			assignEventId,
		},
	}
}

// Validate returns the accepted events, in input order, and the number of quarantined rows.
// Every quarantined row is logged with its raw content.
func (v *Validator) Validate(ctx *logctx.Context, rows []model.RawRow) ([]model.Event, int) {
	m := metrics.Get()
	valid := make([]model.Event, 0, len(rows))
	quarantined := 0
	for i := range rows {
		event, rejection := v.apply(&rows[i])
		if rejection != nil {
			quarantined++
			m.RecordQuarantined(rejection.Rule)
			ctx.Log.WithFields(logrus.Fields{
				"file": rows[i].File,
				"line": rows[i].Line,
				"rule": rejection.Rule,
				"raw":  rows[i].Raw,
			}).Warnf("Quarantined row: %s", rejection.Reason)
			continue
		}
		if supplied := strings.TrimSpace(rows[i].Values[model.ColumnEventId]); supplied != "" && !sameId(supplied, event.EventId) {
			m.RecordEventIdMismatch()
			ctx.Log.WithFields(logrus.Fields{
				"file": rows[i].File,
				"line": rows[i].Line,
			}).Debugf("Supplied event_id %s replaced by derived id %s", supplied, event.EventId)
		}
		valid = append(valid, event)
	}
	return valid, quarantined
}

func (v *Validator) apply(row *model.RawRow) (model.Event, *Rejection) {
	c := &candidate{row: row}
	for _, r := range v.rules {
		if rejection := r(c); rejection != nil {
			return model.Event{}, rejection
		}
	}
	return c.event, nil
}

func sameId(supplied string, derived uuid.UUID) bool {
	id, err := uuid.Parse(supplied)
	return err == nil && id == derived
}
