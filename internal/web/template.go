package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/cat-tracker/internal/status"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"class":  func(i int) string { return telemetry.Class(i).String() },
	"stamp":  func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(indexHTML))

// formatUptime renders d as "1d 2h 3m 4s", leaving out leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
		{secs % 60, "s"},
	}
	out := ""
	for i, p := range parts {
		if out == "" && p.n == 0 && i < len(parts)-1 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%d%s", p.n, p.unit)
	}
	return out
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Cat Tracker</title>
<style>
body { font: 14px/1.4 ui-monospace, monospace; max-width: 40em; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0; }
h2 { font-size: 1.05em; margin: 1.4em 0 0.3em; color: #555; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 3px 6px; border-bottom: 1px solid #eee; }
th { width: 45%; font-weight: normal; color: #666; }
.connected { color: #1a7f37; }
.backoff, .connecting { color: #b35900; }
.disconnected { color: #c62828; }
</style>
</head>
<body>
<h1>Cat Tracker</h1>

<h2>Cloud</h2>
<table>
<tr><th>Session</th><td id="session" class="{{.Session}}">{{.Session}}</td></tr>
<tr><th>Retries</th><td>{{.Retries}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Client ID</th><td>{{.Config.ClientID}}</td></tr>
<tr><th>Encoding</th><td>{{.Config.Encoding}}</td></tr>
</table>

<h2>Device</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.Device.ModeString}}</td></tr>
<tr><th>GPS timeout</th><td>{{.Device.GPSTimeout}}</td></tr>
<tr><th>Active wait</th><td>{{.Device.ActiveWait}}</td></tr>
<tr><th>Passive wait</th><td>{{.Device.PassiveWait}}</td></tr>
<tr><th>Movement timeout</th><td>{{.Device.MovementTimeout}}</td></tr>
<tr><th>Accel threshold</th><td>{{.Device.AccelThreshold}}</td></tr>
{{if .HasFix}}<tr><th>Last fix</th><td id="fix">{{printf "%.5f" .Fix.Latitude}}, {{printf "%.5f" .Fix.Longitude}} at {{stamp .FixTime}}</td></tr>{{end}}
</table>

<h2>Buffers</h2>
<table>
<tr><th>Class</th><td>queued / occupied / capacity</td></tr>
{{range $i, $b := .Buffers}}<tr><th>{{class $i}}</th><td>{{$b.Queued}} / {{$b.Occupied}} / {{$b.Capacity}}</td></tr>
{{end}}</table>

<h2>Publish</h2>
<table>
<tr><th>Snapshots</th><td>{{.Publish.Snapshots}}</td></tr>
<tr><th>Batches</th><td>{{.Publish.Batches}}</td></tr>
<tr><th>Entries</th><td>{{.Publish.Entries}}</td></tr>
<tr><th>Button messages</th><td>{{.Publish.UserInputs}}</td></tr>
<tr><th>Failures</th><td>{{.Publish.Failures}}</td></tr>
{{if not .LastPublish.IsZero}}<tr><th>Last publish</th><td>{{stamp .LastPublish}}</td></tr>{{end}}
{{if .LastError}}<tr><th>Last error</th><td class="disconnected">{{.LastError}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Simulate}}<tr><th>Sensors</th><td>simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
