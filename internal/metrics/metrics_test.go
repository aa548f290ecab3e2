package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/while-basic/celaya-parachain-sub004/internal/metrics"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestCollectorRendersEvents(t *testing.T) {
	c := metrics.New()

	c.MessageEnqueued("para-1000")
	c.MessageEnqueued("para-1000")
	c.MessageProcessed("para-1000", 128, 7)
	c.MessageOverweight("para-2000", "01H", 4096, "unroutable")
	c.OverweightExecuted("01H", true, 3)
	c.OverweightExecuted("01H", false, 0)
	c.PageReaped("para-1000", 0)
	c.ObserveBatchCommit(2*time.Millisecond, 256)

	body := scrape(t, c.Handler())
	for _, want := range []string{
		`mqd_messages_enqueued_total{origin="para-1000"} 2`,
		`mqd_messages_processed_total{origin="para-1000"} 1`,
		`mqd_weight_consumed_total 10`,
		`mqd_messages_overweight_total{origin="para-2000"} 1`,
		`mqd_overweight_executions_total{result="success"} 1`,
		`mqd_overweight_executions_total{result="failure"} 1`,
		`mqd_pages_reaped_total{origin="para-1000"} 1`,
		`mqd_store_op_bytes_total{op="commit"} 256`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q\n%s", want, body)
		}
	}
}
