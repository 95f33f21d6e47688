package monitoring

import "time"

// NopCollector discards all measurements. Used when Prometheus is disabled.
type NopCollector struct{}

func NewNopCollector() *NopCollector { return &NopCollector{} }

func (NopCollector) MessageHandled(string, bool, time.Duration) {}
func (NopCollector) SessionCreated()                            {}
func (NopCollector) SessionsExpired(int)                        {}
func (NopCollector) RateLimited()                               {}
func (NopCollector) ConnectionOpened()                          {}
func (NopCollector) ConnectionClosed()                          {}
