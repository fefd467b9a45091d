package testing

import "time"

// Epoch is the fixed start of simulated time used by tests.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
