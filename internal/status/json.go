package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Mode          string       `json:"mode"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Cloud         CloudStatus  `json:"cloud"`
	Buffers       []BufferJSON `json:"buffers"`
	Publish       PublishJSON  `json:"publish"`
	Fix           *FixJSON     `json:"fix,omitempty"`
	Device        DeviceJSON   `json:"device"`
	Config        ConfigJSON   `json:"config"`
}

// CloudStatus reports the session state.
type CloudStatus struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Retries   int    `json:"retries"`
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
}

// BufferJSON is the JSON representation of one ring.
type BufferJSON struct {
	Class       string `json:"class"`
	Capacity    int    `json:"capacity"`
	Occupied    int    `json:"occupied"`
	Queued      int    `json:"queued"`
	Overwritten uint64 `json:"overwritten"`
	Evicted     uint64 `json:"evicted"`
	Rejected    uint64 `json:"rejected"`
}

// PublishJSON is the JSON representation of publish counters.
type PublishJSON struct {
	Snapshots   int    `json:"snapshots"`
	Batches     int    `json:"batches"`
	Entries     int    `json:"entries"`
	UserInputs  int    `json:"user_inputs"`
	Failures    int    `json:"failures"`
	LastPublish string `json:"last_publish,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// FixJSON is the latest GPS fix.
type FixJSON struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Accuracy  float64 `json:"acc"`
	Time      string  `json:"time"`
}

// DeviceJSON is the cloud-controlled device configuration.
type DeviceJSON struct {
	GPSTimeoutSeconds      int64   `json:"gps_timeout_seconds"`
	Active                 bool    `json:"active"`
	ActiveWaitSeconds      int64   `json:"active_wait_seconds"`
	PassiveWaitSeconds     int64   `json:"passive_wait_seconds"`
	MovementTimeoutSeconds int64   `json:"movement_timeout_seconds"`
	AccelThreshold         float64 `json:"accel_threshold"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Encoding string `json:"encoding"`
	HTTPAddr string `json:"http_addr"`
	Simulate bool   `json:"simulate"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Mode:          snap.Device.ModeString(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Cloud: CloudStatus{
			State:     snap.Session,
			Connected: snap.Session == "connected",
			Retries:   snap.Retries,
			Broker:    snap.Config.Broker,
			ClientID:  snap.Config.ClientID,
		},
		Publish: PublishJSON{
			Snapshots:  snap.Publish.Snapshots,
			Batches:    snap.Publish.Batches,
			Entries:    snap.Publish.Entries,
			UserInputs: snap.Publish.UserInputs,
			Failures:   snap.Publish.Failures,
			LastError:  snap.LastError,
		},
		Device: DeviceJSON{
			GPSTimeoutSeconds:      int64(snap.Device.GPSTimeout.Seconds()),
			Active:                 snap.Device.Active,
			ActiveWaitSeconds:      int64(snap.Device.ActiveWait.Seconds()),
			PassiveWaitSeconds:     int64(snap.Device.PassiveWait.Seconds()),
			MovementTimeoutSeconds: int64(snap.Device.MovementTimeout.Seconds()),
			AccelThreshold:         snap.Device.AccelThreshold,
		},
		Config: ConfigJSON{
			Encoding: snap.Config.Encoding,
			HTTPAddr: snap.Config.HTTPAddr,
			Simulate: snap.Config.Simulate,
		},
	}
	if !snap.LastPublish.IsZero() {
		inner.Publish.LastPublish = snap.LastPublish.UTC().Format(time.RFC3339)
	}
	if snap.HasFix {
		inner.Fix = &FixJSON{
			Latitude:  snap.Fix.Latitude,
			Longitude: snap.Fix.Longitude,
			Accuracy:  snap.Fix.Accuracy,
			Time:      snap.FixTime.UTC().Format(time.RFC3339),
		}
	}
	inner.Buffers = make([]BufferJSON, len(telemetry.Classes))
	for i, c := range telemetry.Classes {
		b := snap.Buffers[i]
		inner.Buffers[i] = BufferJSON{
			Class:       c.String(),
			Capacity:    b.Capacity,
			Occupied:    b.Occupied,
			Queued:      b.Queued,
			Overwritten: b.Overwritten,
			Evicted:     b.Evicted,
			Rejected:    b.Rejected,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
