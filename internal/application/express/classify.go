package express

import (
	"time"

	"github.com/giadungplus/opscore/internal/domain/order"
)

// Class is what the reconciler does with an express order this tick
type Class string

const (
	// ClassPrepared orders have a tracking code and need a rider
	ClassPrepared Class = "PREPARED"
	// ClassNeedsPrepare orders waited too long without a tracking code
	ClassNeedsPrepare Class = "NEEDS_PREPARE"
	// ClassSkip orders are left for a later tick
	ClassSkip Class = "SKIP"
)

// Classify decides the next step for the Sapo order paired with an express
// marketplace order. An order needs preparing once its age exceeds minAge;
// an unreadable creation time counts as old enough.
func Classify(o *order.Order, now time.Time, minAge time.Duration) Class {
	if o == nil {
		return ClassSkip
	}
	if o.HasTrackingCode() {
		return ClassPrepared
	}
	created, ok := o.CreatedAt()
	if !ok {
		return ClassNeedsPrepare
	}
	if now.Sub(created) > minAge {
		return ClassNeedsPrepare
	}
	return ClassSkip
}
