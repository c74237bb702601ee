package engine

import "time"

const timeFormat = time.RFC3339

// nowFunc is overridable in tests; production code always uses wall time.
var nowFunc = func() time.Time { return time.Now().UTC() }
