package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/ferm-relay/internal/status"
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
	"guard": func(d time.Duration) string {
		if d == 0 {
			return "-"
		}
		return d.String()
	},
	"stateName": status.StateName,
	"ms": func(v int64) time.Duration {
		return time.Duration(v) * time.Millisecond
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Fermenter Relays</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.blocked { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Fermenter Relays{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Relays</h2>
<table>
<tr><th>Relay</th><th>State</th><th>Min run</th><th>Reactivation</th><th>Wait</th><th>On/Off/Blocked</th>{{if .Config.HTTPControl}}<th></th>{{end}}</tr>
{{range .Relays}}<tr>
<td>{{.Name}}</td>
<td id="state-{{.Name}}" class="{{if .On}}on{{else}}off{{end}}">{{stateName .On}}</td>
<td>{{guard .MinRunTime}}</td>
<td>{{guard .ReactivationDelay}}</td>
<td class="{{if .GuardRemaining}}blocked{{end}}">{{guard .GuardRemaining}}</td>
<td>{{.Counts.On}}/{{.Counts.Off}}/{{.Counts.Blocked}}</td>
{{if $.Config.HTTPControl}}<td><button data-relay="{{.Name}}" data-action="on">on</button> <button data-relay="{{.Name}}" data-action="off">off</button></td>{{end}}
</tr>
{{else}}<tr><td colspan="7">no relays configured</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Driver}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Report</th><td>{{if eq .Config.ReportEveryMs 0}}disabled{{else}}{{ms .Config.ReportEveryMs}}{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
document.querySelectorAll("button[data-relay]").forEach(function(b) {
  b.addEventListener("click", function() {
    fetch("/relay/" + b.dataset.relay + "/" + b.dataset.action, { method: "POST" })
      .then(function() { setTimeout(function() { location.reload(); }, 500); });
  });
});
</script>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.TopicPrefix}}/relay/+/state";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.relay) {
        var el = document.getElementById("state-" + msg.relay.name);
        if (el) {
          var on = msg.relay.state === "ON";
          el.textContent = on ? "On" : "Off";
          el.className = on ? "on" : "off";
        }
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
