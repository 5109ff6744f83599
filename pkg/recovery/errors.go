package recovery

import "errors"

var ErrCircuitBreakerOpen = errors.New("recovery suspended: circuit breaker is open")
