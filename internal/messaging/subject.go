package messaging

import (
	"fmt"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// SubjectPrefix is the root of every contract event subject
const SubjectPrefix = "events.layer"

// SubjectFilter matches every contract event subject
const SubjectFilter = SubjectPrefix + ".>"

// Subject returns the subject an event kind is published on,
// e.g. events.layer.bid_proposed
func Subject(kind domain.EventKind) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, kind)
}
