package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder writes per-operation measurement points to InfluxDB using the
// non-blocking write API. A nil Recorder drops everything, so callers can
// record unconditionally.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewRecorder connects to InfluxDB.
func NewRecorder(cfg Config) *Recorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// RecordOperation records the outcome and latency of one exchange
// operation.
func (r *Recorder) RecordOperation(op string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	point := influxdb2.NewPoint(
		"exchange_operation",
		map[string]string{
			"operation": op,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"elapsed_us": elapsed.Microseconds(),
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// RecordAllocation records the circulation counter after a mint or burn.
func (r *Recorder) RecordAllocation(allocated uint64) {
	if r == nil {
		return
	}

	point := influxdb2.NewPoint(
		"allocation",
		nil,
		map[string]interface{}{
			"allocated": int64(allocated),
		},
		time.Now(),
	)
	r.writeAPI.WritePoint(point)
}

// Close flushes pending points and shuts the client down.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
