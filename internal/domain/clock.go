package domain

import "time"

// nowFunc is overridden in tests that need to control retry-backoff timing
// deterministically.
var nowFunc = time.Now
