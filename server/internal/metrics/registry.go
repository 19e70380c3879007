package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names exposed by the server.
const (
	RequestsTotal     = "caffeinestack_http_requests_total"
	PurchasesTotal    = "caffeinestack_purchases_total"
	ComputationsTotal = "caffeinestack_level_computations_total"
)

type requestKey struct {
	route string
	code  int
}

type gauge struct {
	help  string
	value float64
}

// Registry holds the server's metrics. All methods are safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	requests     map[requestKey]float64
	purchases    float64
	computations float64
	gauges       map[string]gauge
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		requests: make(map[requestKey]float64),
		gauges:   make(map[string]gauge),
	}
}

// IncRequest counts one HTTP request served by route with status code.
func (r *Registry) IncRequest(route string, code int) {
	r.mu.Lock()
	r.requests[requestKey{route, code}]++
	r.mu.Unlock()
}

// IncPurchases counts one registered purchase.
func (r *Registry) IncPurchases() {
	r.mu.Lock()
	r.purchases++
	r.mu.Unlock()
}

// IncComputations counts one level engine run.
func (r *Registry) IncComputations() {
	r.mu.Lock()
	r.computations++
	r.mu.Unlock()
}

// SetGauge sets the gauge name to value, creating it on first use.
func (r *Registry) SetGauge(name, help string, value float64) {
	r.mu.Lock()
	r.gauges[name] = gauge{help: help, value: value}
	r.mu.Unlock()
}

// Gather returns a snapshot of all metric families sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*dto.MetricFamily

	if len(r.requests) > 0 {
		keys := make([]requestKey, 0, len(r.requests))
		for k := range r.requests {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].route != keys[j].route {
				return keys[i].route < keys[j].route
			}
			return keys[i].code < keys[j].code
		})
		mf := family(RequestsTotal, "HTTP requests served, by route and status code.", dto.MetricType_COUNTER)
		for _, k := range keys {
			mf.Metric = append(mf.Metric, &dto.Metric{
				Label: []*dto.LabelPair{
					label("code", strconv.Itoa(k.code)),
					label("route", k.route),
				},
				Counter: &dto.Counter{Value: ptr(r.requests[k])},
			})
		}
		out = append(out, mf)
	}

	out = append(out, counter(PurchasesTotal, "Coffee purchases registered.", r.purchases))
	out = append(out, counter(ComputationsTotal, "Caffeine level engine runs.", r.computations))

	for name, g := range r.gauges {
		mf := family(name, g.help, dto.MetricType_GAUGE)
		mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(g.value)}}}
		out = append(out, mf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// WriteText encodes all families to w in the Prometheus text format.
func (r *Registry) WriteText(w io.Writer) error {
	enc := expfmt.NewEncoder(w, ContentType())
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ContentType is the exposition format written by WriteText.
func ContentType() expfmt.Format {
	return expfmt.NewFormat(expfmt.TypeTextPlain)
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: typ.Enum()}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	mf := family(name, help, dto.MetricType_COUNTER)
	mf.Metric = []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}}
	return mf
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func ptr[T any](v T) *T { return &v }
