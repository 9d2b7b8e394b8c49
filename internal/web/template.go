package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/ambre-chamber/internal/logic"
	"github.com/sweeney/ambre-chamber/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"reading": func(r logic.Reading, unit string) string {
		if !r.Valid {
			return "nan"
		}
		return fmt.Sprintf("%.1f %s", r.Value, unit)
	},
	"healthClass": func(s logic.Status) string {
		switch s {
		case logic.StatusOK:
			return "ok"
		case logic.StatusError:
			return "err"
		}
		return "setup"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Ambre Chamber</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok, .open, .connected { color: green; font-weight: bold; }
.err, .disconnected { color: red; font-weight: bold; }
.setup { color: blue; }
.closed { color: #888; }
</style>
</head>
<body>
<h1>{{if .Config.Identity}}{{.Config.Identity}}{{else}}Ambre Chamber{{end}}</h1>

<h2>Readings</h2>
<table>
<tr><th>DS18B20 temp.</th><td id="ds18-temp">{{reading .Chamber.Cache.DS18Temp "°C"}}</td></tr>
<tr><th>DHT22 temp.</th><td id="dht-temp">{{reading .Chamber.Cache.DHTTemp "°C"}}</td></tr>
<tr><th>DHT22 humi.</th><td id="dht-humi">{{reading .Chamber.Cache.DHTHumi "%"}}</td></tr>
<tr><th>Health</th><td id="health" class="{{healthClass .Chamber.Status}}">{{.Chamber.Status}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Valve</h2>
<table>
<tr><th>State</th><td id="valve" class="{{if .Chamber.ValveOpen}}open{{else}}closed{{end}}">{{if .Chamber.ValveOpen}}open{{else}}closed{{end}}</td></tr>
<tr><th>Mode</th><td>{{.Mode}}</td></tr>
{{if .Auto}}<tr><th>Threshold</th><td id="threshold">{{printf "%.1f" .Actuator.Threshold}} %</td></tr>
<tr><th>Opens</th><td>{{if .Actuator.OpenOnAbove}}above threshold{{else}}below threshold{{end}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Serial</th><td>{{.Config.SerialPort}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Fast samples</th><td>{{.Chamber.Counts.FastSamples}}</td></tr>
<tr><th>Slow samples</th><td>{{.Chamber.Counts.SlowSamples}}</td></tr>
<tr><th>Commands</th><td>{{.Chamber.Counts.Commands}}</td></tr>
<tr><th>Valve switches</th><td>{{.Chamber.Counts.ValveSwitches}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample time</th><td>{{.Chamber.SampleTime}} ms</td></tr>
<tr><th>Loop</th><td>{{.Config.LoopMs}}ms</td></tr>
<tr><th>Fast period</th><td>{{.Config.FastPeriodMs}}ms</td></tr>
<tr><th>Slow period</th><td>{{.Config.SlowPeriodMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods but the template needs plain fields.
	actuator, auto := snap.Threshold()
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Mode     logic.Mode
		Auto     bool
		Actuator logic.ActuatorConfig
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Mode:     snap.Mode(),
		Auto:     auto,
		Actuator: actuator,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
