package report

import (
	"bytes"
	"io"
	"text/template"

	evmcommon "github.com/colorfulnotion/evmtests/common"
)

var markdownTmpl = template.Must(template.New("report").Parse(`# EVM test run

- commit: ` + "`{{.Commit}}`" + `
- generated: {{.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}}
- elapsed: {{.Elapsed}}
- skipped as already passed: {{.Skipped}}
{{- if .Cancelled}}
- **run was cancelled; results are partial**
{{- end}}

| group | proof | witness | ignored | evm error | wrong roots | timed out | total |
|---|---:|---:|---:|---:|---:|---:|---:|
{{- range .Groups}}
| {{.Name}} | {{.PassedProof}} | {{.PassedWitness}} | {{.Ignored}} | {{.EvmErr}} | {{.WrongRoots}} | {{.TimedOut}} | {{.Total}} |
{{- end}}
| **{{.Totals.Name}}** | {{.Totals.PassedProof}} | {{.Totals.PassedWitness}} | {{.Totals.Ignored}} | {{.Totals.EvmErr}} | {{.Totals.WrongRoots}} | {{.Totals.TimedOut}} | {{.Totals.Total}} |
{{if .Failures}}
## Failures
{{range .Failures}}
### {{.Identity}}

{{.Status}}
{{- if .StateDiff}}

` + "```" + `
{{.StateDiff}}
` + "```" + `
{{- end}}
{{end}}
{{- end}}`))

// WriteMarkdown renders the report as a markdown document.
func (rep *Report) WriteMarkdown(w io.Writer) error {
	return markdownTmpl.Execute(w, rep)
}

// WriteMarkdownFile renders the report into path.
func (rep *Report) WriteMarkdownFile(path string) error {
	return writeFile(path, rep.WriteMarkdown)
}

func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	return evmcommon.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
