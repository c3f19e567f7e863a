package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Domain      string
	Label       string
	Status      string
	Description string
	Author      string
	UpdatedAt   time.Time
	Settings    []SettingsRow
	Validated   bool
	Valid       bool
	Errors      []TemplateIssue
	Warnings    []TemplateIssue
	ActiveLabel string
	ChangedKeys []string
	Alerts      []TemplateAlert
}

// TemplateIssue holds one validation finding for the template
type TemplateIssue struct {
	Path    string
	Message string
}

// TemplateAlert holds one enabled alert definition for the template
type TemplateAlert struct {
	Name         string
	Type         string
	Metric       string
	ThresholdPct float64
	Severity     string
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Domain}} {{.Label}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; }
    td, th { border: 1px solid #ddd; padding: 0.4rem; text-align: left; }
  </style>
</head>
<body>
  <h1>{{.Domain}} {{.Label}} impact report</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">{{.Status}} | {{.Author}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <table>
    {{range .Settings}}<tr><td>{{.Path}}</td><td>{{.Value}}</td></tr>{{end}}
  </table>
  {{if .ChangedKeys}}
  <h2>Changes vs {{.ActiveLabel}}</h2>
  <ul>{{range .ChangedKeys}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
</body>
</html>`
