// Package render turns query results into the HTML fragments shown in the
// results area of the page.
package render

import (
	"fmt"
	"html/template"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/duckpad/duckpad/internal/query"
)

const (
	NoResultsText   = "No results found"
	EmptyQueryText  = "Please enter a query"
	QueryErrorTitle = "Error executing query"
	InitErrorTitle  = "Error initializing DuckDB"
)

var fragments = template.Must(template.New("fragments").Funcs(template.FuncMap{
	"cell": FormatValue,
}).Parse(`
{{- define "table" -}}
<table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{cell .}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- if .Truncated}}
<div class="notice">Showing the first {{len .Rows}} rows</div>
{{- end}}
{{- end -}}
{{- define "message" -}}
<div class="{{.Class}}">{{.Text}}</div>
{{- end -}}
`))

// Result writes result as a table, or the no-results message when it has no
// rows.
func Result(w io.Writer, result query.Result) error {
	if result.Empty() {
		return Message(w, "no-results", NoResultsText)
	}
	return fragments.ExecuteTemplate(w, "table", result)
}

// Error writes err as an inline error message prefixed by title.
func Error(w io.Writer, title string, err error) error {
	text := title
	if err != nil {
		text = fmt.Sprintf("%s: %s", title, err.Error())
	}
	return Message(w, "error", text)
}

func Message(w io.Writer, class, text string) error {
	return fragments.ExecuteTemplate(w, "message", struct {
		Class string
		Text  string
	}{Class: class, Text: text})
}

// FormatValue renders a single cell.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float32:
		return strconv.FormatFloat(float64(typed), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(typed, 'g', -1, 64)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	case *big.Int:
		return typed.String()
	case []byte:
		return string(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
