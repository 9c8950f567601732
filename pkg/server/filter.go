package server

import (
	"strings"

	"github.com/dataferry/ferry/pkg/eventlog"
	"github.com/dataferry/ferry/pkg/types"
)

// Filter is the conjunction of attribute predicates collected for one
// (topic, caller) pair. An empty filter allows every record.
type Filter []types.FilterAttribute

// BuildAttributeFilter collects the caller's filter attributes for a
// topic and reports whether the caller may read it at all. Unlike the
// access check, collection scans every producer: a product matches when
// its topic or its name equals the requested topic, and its consumer
// list names the caller. All comparisons are case-insensitive.
func BuildAttributeFilter(cfg *types.ProducerConfig, topic, callerID string) (Filter, bool) {
	if cfg == nil {
		return nil, false
	}

	var filter Filter
	permitted := false

	for i := range cfg.Producers {
		for pi := range cfg.Producers[i].Products {
			product := &cfg.Producers[i].Products[pi]
			if !strings.EqualFold(product.Topic, topic) && !strings.EqualFold(product.Name, topic) {
				continue
			}
			for ci := range product.Consumers {
				consumer := &product.Consumers[ci]
				if !strings.EqualFold(consumer.IdpClientID, callerID) {
					continue
				}
				permitted = true
				filter = append(filter, consumer.Attributes...)
			}
		}
	}
	return filter, permitted
}

// Matches applies the filter to a record's headers with AND semantics:
// every attribute must find a header whose key matches its name and
// whose first occurrence carries its value. An attribute with an empty
// name or value never matches.
func (f Filter) Matches(headers []eventlog.Header) bool {
	for _, attr := range f {
		if attr.Name == "" || attr.Value == "" {
			return false
		}
		value, found := firstHeader(headers, attr.Name)
		if !found || !strings.EqualFold(value, attr.Value) {
			return false
		}
	}
	return true
}

// firstHeader returns the value of the first header with the given key,
// compared case-insensitively.
func firstHeader(headers []eventlog.Header, key string) (string, bool) {
	for i := range headers {
		if strings.EqualFold(headers[i].Key, key) {
			return string(headers[i].Value), true
		}
	}
	return "", false
}
