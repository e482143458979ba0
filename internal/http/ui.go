package http

import (
	"bytes"
	"html/template"
	nethttp "net/http"

	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/view"
)

type pageData struct {
	Session string
	Base    string
	View    view.ViewModel
}

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))

func renderPage(w nethttp.ResponseWriter, id string, vm view.ViewModel, logger *zap.Logger) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{Session: id, Base: sessionPath(id), View: vm}); err != nil {
		logger.Error("render page", zap.String("session", id), zap.Error(err))
		nethttp.Error(w, "failed to render page", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = buf.WriteTo(w)
}

const pageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>RDM Bridge</title>
  <style>
    :root {
      --blue: #0e5d8f;
      --blue-2: #0971b2;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --line-soft: #eee;
      --head: #f0f0f0;
      --ok-bg: #dff0d8;
      --ok-text: #3c763d;
      --bad-bg: #f2dede;
      --bad-text: #a94442;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      background: var(--bg);
      color: var(--text);
      font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
      font-size: 14px;
      line-height: 1.42857143;
    }

    header {
      background: linear-gradient(to right, var(--blue) 0, var(--blue-2) 100%);
      border-bottom: 1px solid #0b4e79;
      box-shadow: 0 2px 5px rgba(0, 0, 0, 0.15);
      color: #fff;
    }

    .container { margin: 0 auto; padding: 0 15px; max-width: 1680px; }
    .header-inner { min-height: 60px; display: flex; align-items: center; justify-content: space-between; }
    .brand { font-size: 22px; font-weight: 300; }
    .brand strong { font-weight: 600; }
    .note { font-size: 12px; opacity: 0.85; }

    main { padding: 18px 0 32px; }
    .row { display: flex; flex-wrap: wrap; gap: 16px; }
    .col-main { flex: 3 1 640px; }
    .col-side { flex: 1 1 320px; }

    .panel {
      background: var(--paper);
      border: 1px solid var(--line);
      box-shadow: 0 1px 2px rgba(0, 0, 0, 0.05);
      padding: 16px;
      margin-bottom: 16px;
    }

    h2 { margin: 0 0 10px; font-size: 20px; font-weight: 400; color: #444; border-bottom: 1px solid var(--line-soft); padding-bottom: 6px; }

    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line-soft); vertical-align: top; }
    th { background: var(--head); font-weight: 600; }
    tr.expanded td { background: #f3f8fc; }

    form.inline { display: inline-flex; gap: 6px; align-items: center; margin: 0 8px 8px 0; }
    select, input[type=file] { min-width: 200px; padding: 4px; }
    button {
      border: 1px solid #c7d7e5;
      background: #f3f8fc;
      color: var(--blue);
      padding: 5px 10px;
      font-weight: 600;
      cursor: pointer;
    }
    button:disabled { opacity: 0.45; cursor: not-allowed; }
    button.glyph { min-width: 32px; }

    .banner { background: var(--bad-bg); color: var(--bad-text); border: 1px solid #ebccd1; padding: 8px 12px; margin-bottom: 12px; }
    .alert { background: #fcf8e3; color: #8a6d3b; border: 1px solid #faebcc; padding: 8px 12px; margin-bottom: 12px; }
    .result { background: var(--ok-bg); color: var(--ok-text); padding: 8px 12px; }
    pre { background: #fafafa; border: 1px solid var(--line-soft); padding: 8px; overflow: auto; max-height: 420px; font-size: 12px; }
    .muted { color: var(--muted); }
    ul.items { list-style: none; padding: 0; margin: 0; }
    ul.items li { display: flex; justify-content: space-between; align-items: center; padding: 4px 0; border-bottom: 1px solid var(--line-soft); }
  </style>
</head>
<body>
  <header>
    <div class="container header-inner">
      <div class="brand"><strong>RDM</strong> Bridge</div>
      <div class="note">session {{.Session}} &middot; revision <span id="revision">{{.View.Revision}}</span></div>
    </div>
  </header>
  <main class="container">
    {{with .View.Banner}}<div class="banner" role="alert">{{.}}</div>{{end}}
    {{range .View.Alerts}}<div class="alert" role="alert">{{.}}</div>{{end}}

    <div class="row">
      <div class="col-main">
        <section class="panel">
          <h2>Data</h2>
          <form class="inline" method="post" action="{{.Base}}filter">
            <label for="typeSelect">Filter by {{.View.GroupField}}</label>
            <select id="typeSelect" name="type" onchange="this.form.requestSubmit()">
              {{range .View.TypeOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
            </select>
            <noscript><button type="submit">Filter</button></noscript>
          </form>
          <form class="inline" method="post" action="{{.Base}}refresh"><button type="submit">Refresh</button></form>
          <form class="inline" method="post" action="{{.Base}}reset"><button type="submit">Reset</button></form>

          <table>
            <thead><tr><th>ID</th><th>Type</th><th>Title</th><th>Ontology</th><th>Metadata</th></tr></thead>
            <tbody>
            {{range .View.Rows}}
              <tr{{if .Expanded}} class="expanded"{{end}}>
                <td>{{.ID}}</td><td>{{.Type}}</td><td>{{.Title}}</td><td>{{.Ontology}}</td>
                <td>
                  <form method="post" action="{{$.Base}}metadata">
                    <input type="hidden" name="id" value="{{.ID}}" />
                    <button class="glyph" type="submit" aria-expanded="{{.Expanded}}">{{.Glyph}}</button>
                  </form>
                </td>
              </tr>
            {{else}}
              <tr><td colspan="5" class="muted">No records.</td></tr>
            {{end}}
            </tbody>
          </table>
        </section>

        <section class="panel">
          <h2>RDM platforms</h2>
          <form class="inline" method="post" action="{{.Base}}select">
            <input type="hidden" name="control" value="platform" />
            <select id="platformSelect" name="value" onchange="this.form.requestSubmit()">
              {{range .View.PlatformOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
            </select>
          </form>
          <form class="inline" method="post" action="{{.Base}}platform/types">
            <button type="submit"{{if not .View.Controls.ConnectPlatform}} disabled{{end}}>Connect</button>
          </form>

          {{if .View.TypeSectionVisible}}
          <div>
            <form class="inline" method="post" action="{{.Base}}select">
              <input type="hidden" name="control" value="platformType" />
              <select id="platformTypeSelect" name="value" onchange="this.form.requestSubmit()">
                {{range .View.PlatformTypeOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
              </select>
            </form>
            <form class="inline" method="post" action="{{.Base}}platform/data">
              <button type="submit"{{if not .View.Controls.FetchPlatformData}} disabled{{end}}>Fetch data</button>
            </form>
          </div>
          {{end}}

          <ul class="items">
          {{range .View.PlatformItems}}
            <li>
              <span>{{.ID}} &middot; {{.Title}} <span class="muted">{{.Ontology}}</span></span>
              <form method="post" action="{{$.Base}}import">
                <input type="hidden" name="id" value="{{.ID}}" />
                <button type="submit">Import</button>
              </form>
            </li>
          {{end}}
          </ul>
        </section>

        {{if or .View.Features.Export .View.Features.Simulation}}
        <section class="panel">
          <h2>Samples</h2>
          {{if .View.Features.Export}}
          <form class="inline" method="post" action="{{.Base}}select">
            <input type="hidden" name="control" value="export" />
            <select id="exportSelect" name="value" onchange="this.form.requestSubmit()">
              {{range .View.ExportOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
            </select>
          </form>
          <form class="inline" method="post" action="{{.Base}}export">
            <button type="submit"{{if not .View.Controls.Export}} disabled{{end}}>Export</button>
          </form>
          {{end}}
          {{if .View.Features.Simulation}}
          <div>
            <form class="inline" method="post" action="{{.Base}}select">
              <input type="hidden" name="control" value="simulation" />
              <select id="sampleSelect" name="value" onchange="this.form.requestSubmit()">
                {{range .View.SampleOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
              </select>
            </form>
            <form class="inline" method="post" action="{{.Base}}simulation">
              <button type="submit"{{if not .View.Controls.RunSimulation}} disabled{{end}}>Run simulation</button>
            </form>
          </div>
          {{with .View.SimulationResult}}
            <pre>{{.}}</pre>
            <form class="inline" method="post" action="{{$.Base}}simulation/export">
              <button type="submit">Export result</button>
            </form>
          {{end}}
          {{end}}
        </section>
        {{end}}
      </div>

      <div class="col-side">
        <section class="panel">
          <h2>Metadata</h2>
          {{with .View.Metadata}}
            <p class="muted">{{.RecordID}}</p>
            <pre>{{.Metadata}}</pre>
            <h3>@context</h3>
            <pre>{{.Context}}</pre>
          {{else}}
            <p class="muted">Expand a row to see its metadata.</p>
          {{end}}
        </section>

        {{if .View.Features.Crates}}
        <section class="panel">
          <h2>Crates</h2>
          <form class="inline" method="post" action="{{.Base}}select">
            <input type="hidden" name="control" value="crate" />
            <select id="crateSelect" name="value" onchange="this.form.requestSubmit()">
              {{range .View.CrateOptions}}<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Label}}</option>{{end}}
            </select>
          </form>
          <form class="inline" method="post" action="{{.Base}}crate">
            <button type="submit"{{if not .View.Controls.ShowCrate}} disabled{{end}}>Show</button>
          </form>
          <form class="inline" method="post" action="{{.Base}}crates"><button type="submit">Reload</button></form>
          {{with .View.CrateView}}<pre>{{.}}</pre>{{end}}
        </section>
        {{end}}

        {{if .View.Features.Upload}}
        <section class="panel">
          <h2>Upload RO-Crate</h2>
          <form method="post" action="{{.Base}}upload" enctype="multipart/form-data">
            <input type="file" name="file" accept=".zip,application/zip" />
            <button type="submit">Upload</button>
          </form>
          {{with .View.UploadResult}}<pre class="result">{{.}}</pre>{{end}}
        </section>
        {{end}}
      </div>
    </div>
  </main>
  <script>
    (function () {
      var current = {{.View.Revision}};
      // A pending form post redirects back to the page itself.
      var submitting = false;
      document.addEventListener("submit", function () { submitting = true; });
      var scheme = location.protocol === "https:" ? "wss://" : "ws://";
      var ws = new WebSocket(scheme + location.host + {{.Base}} + "events");
      ws.onmessage = function (ev) {
        var msg = JSON.parse(ev.data);
        if (msg.revision > current && !submitting) {
          location.reload();
        }
      };
    })();
  </script>
</body>
</html>
`
