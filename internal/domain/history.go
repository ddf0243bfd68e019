package domain

import (
	"fmt"
	"time"
)

// AttrHistory is the dataset attribute that accumulates processing steps.
const AttrHistory = "history"

// AppendHistory prepends a timestamped line to the dataset's history
// attribute, newest first, e.g. "Thu Oct 15 09:30:00 2026: combine ERAS".
// ds.Attrs is replaced rather than modified so clones do not share the change.
func AppendHistory(ds *Dataset, entry string) {
	line := fmt.Sprintf("%s: %s", Now().Format(time.ANSIC), entry)
	attrs := ds.Attrs.Clone()
	if attrs == nil {
		attrs = Attrs{}
	}
	if prev, ok := attrs[AttrHistory].(string); ok && prev != "" {
		line += "\n" + prev
	}
	attrs[AttrHistory] = line
	ds.Attrs = attrs
}
