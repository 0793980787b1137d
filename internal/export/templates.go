package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateText))
}

// TemplateData holds data for report rendering
type TemplateData struct {
	PublicID      string
	MeetingNumber int
	Clause        string
	Subclause     string
	Kind          string
	Status        string
	Body          string
	Progress      int
	Creator       string
	Executor      string
	UpdatedAt     time.Time
	Log           []LogEntry
}

// RenderReportHTML renders the resolution report with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Resolution {{.PublicID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .meta span { margin-right: 1.5rem; }
    .body { margin: 1.5rem 0; white-space: pre-wrap; }
    .entry { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .entry .who { font-weight: bold; }
    .entry .when { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>Meeting {{.MeetingNumber}} &mdash; Clause {{.Clause}}{{if .Subclause}}.{{.Subclause}}{{end}}</h1>
  <div class="meta">
    <span>Ref: {{.PublicID}}</span>
    <span>Type: {{.Kind}}</span>
    <span>Status: {{.Status}}</span>
    <span>Progress: {{.Progress}}%</span>
  </div>
  <div class="meta">
    <span>Created by: {{.Creator}}</span>
    {{if .Executor}}<span>Executor: {{.Executor}}</span>{{end}}
    {{if not .UpdatedAt.IsZero}}<span>Updated: {{formatDate .UpdatedAt "Jan 2, 2006"}}</span>{{end}}
  </div>
  <div class="body">{{.Body}}</div>
  {{if .Log}}
  <h2>Activity</h2>
  {{range .Log}}
  <div class="entry">
    <div><span class="who">{{.Author}}</span> <span class="when">{{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</span></div>
    {{if eq .Kind "action"}}<div>{{.ActionType}}</div>{{end}}
    {{if .Progress}}<div>Progress: {{.Progress}}%</div>{{end}}
    {{if .Body}}<div>{{.Body}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
