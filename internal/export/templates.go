package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var boardTemplate = template.Must(template.New("board").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(boardHTML))

// TemplateData holds data for board template rendering
type TemplateData struct {
	Title       string
	ExportedAt  time.Time
	ActiveCards int
	Users       int
	Columns     []TemplateColumn
}

type TemplateColumn struct {
	Key   string
	Label string
	Cards []TemplateCard
}

type TemplateCard struct {
	Content string
	Author  string
	Votes   int
}

func RenderBoardHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boardHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4 landscape; margin: 1.5cm; }
    body { font-family: Arial, sans-serif; line-height: 1.5; margin: 0; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    .columns { display: flex; gap: 1rem; }
    .column { flex: 1; }
    .column h2 { font-size: 1.1em; padding: 0.4rem; color: #fff; }
    .good h2 { background: #2e7d32; }
    .bad h2 { background: #c62828; }
    .improve h2 { background: #1565c0; }
    .card { background: #f5f5f5; padding: 0.6rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .card .by { color: #666; font-size: 0.8em; }
    .votes { float: right; font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Exported {{formatDate .ExportedAt "Jan 2, 2006 15:04 MST"}} | {{.ActiveCards}} cards | {{.Users}} participants</div>
  <div class="columns">
  {{range .Columns}}
    <div class="column {{lower .Key}}">
      <h2>{{.Label}}</h2>
      {{range .Cards}}<div class="card"><span class="votes">{{.Votes}}</span>{{.Content}}<div class="by">{{.Author}}</div></div>
      {{else}}<p class="by">No cards</p>{{end}}
    </div>
  {{end}}
  </div>
</body>
</html>`
