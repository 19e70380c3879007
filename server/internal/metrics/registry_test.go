package metrics

import (
	"bytes"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// parse decodes WriteText output back into families.
func parse(t *testing.T, r *Registry) map[string]*dto.MetricFamily {
	t.Helper()
	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, buf.String())
	}
	return mfs
}

func TestWriteText_EmptyRegistry(t *testing.T) {
	mfs := parse(t, New())
	if _, ok := mfs[RequestsTotal]; ok {
		t.Errorf("%s present without requests", RequestsTotal)
	}
	if got := mfs[PurchasesTotal].GetMetric()[0].GetCounter().GetValue(); got != 0 {
		t.Errorf("%s: got %v, want 0", PurchasesTotal, got)
	}
}

func TestWriteText_Counters(t *testing.T) {
	r := New()
	r.IncRequest("/stats/level/user/{id}", 200)
	r.IncRequest("/stats/level/user/{id}", 200)
	r.IncRequest("/coffee/buy/{user_id}/{machine_id}", 409)
	r.IncPurchases()
	r.IncComputations()
	r.IncComputations()

	mfs := parse(t, r)

	req := mfs[RequestsTotal]
	if req.GetType() != dto.MetricType_COUNTER {
		t.Errorf("%s type: got %v, want COUNTER", RequestsTotal, req.GetType())
	}
	if len(req.GetMetric()) != 2 {
		t.Fatalf("%s series: got %d, want 2", RequestsTotal, len(req.GetMetric()))
	}
	var levelOK float64
	for _, m := range req.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["route"] == "/stats/level/user/{id}" && labels["code"] == "200" {
			levelOK = m.GetCounter().GetValue()
		}
	}
	if levelOK != 2 {
		t.Errorf("level route 200 count: got %v, want 2", levelOK)
	}
	if got := mfs[PurchasesTotal].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("%s: got %v, want 1", PurchasesTotal, got)
	}
	if got := mfs[ComputationsTotal].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("%s: got %v, want 2", ComputationsTotal, got)
	}
}

func TestWriteText_Gauges(t *testing.T) {
	r := New()
	r.SetGauge("caffeinestack_users", "Registered users.", 3)
	r.SetGauge("caffeinestack_users", "Registered users.", 4)

	mfs := parse(t, r)
	mf := mfs["caffeinestack_users"]
	if mf.GetType() != dto.MetricType_GAUGE {
		t.Errorf("type: got %v, want GAUGE", mf.GetType())
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 4 {
		t.Errorf("value: got %v, want 4", got)
	}
}

func TestContentType_IsTextFormat(t *testing.T) {
	if !strings.HasPrefix(string(ContentType()), "text/plain") {
		t.Errorf("ContentType: got %q", ContentType())
	}
}
