package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lineal/internal/domain"
)

// Snapshot is a fully resolved, read-only view of one platform and its
// pieces. Formatters never reach back into storage.
type Snapshot struct {
	Platform domain.Platform
	Pieces   []domain.Piece
}

// Artifact is one generated export output.
type Artifact struct {
	Kind     string // csv, pdf, png
	FileName string
	Data     []byte
}

// Renderer produces rasterized artifacts (PDF, image) from a snapshot.
// Rendering is an external concern; only the contract lives here.
type Renderer interface {
	Render(snapshot Snapshot, kind string) (Artifact, error)
}

// FileName builds the download name for an export artifact:
// Plataforma_<number>[_Firmado]_<YYYY-MM-DD>.<ext>
func FileName(platformNumber string, signed bool, at time.Time, ext string) string {
	var b strings.Builder
	b.WriteString("Plataforma_")
	b.WriteString(sanitize(platformNumber))
	if signed {
		b.WriteString("_Firmado")
	}
	b.WriteString("_")
	b.WriteString(at.Format("2006-01-02"))
	b.WriteString(".")
	b.WriteString(ext)
	return b.String()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

func meters(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CSV renders the piece table followed by a totals row and a key-value
// metadata block. Layout is fixed; viewers of earlier exports rely on it.
func CSV(s Snapshot) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"No.", "Material", "Longitud (m)", "Ancho (m)", "Metros Lineales"}); err != nil {
		return "", err
	}
	for _, pc := range s.Pieces {
		if err := w.Write([]string{
			strconv.Itoa(pc.Number),
			pc.Material,
			meters(pc.Length),
			meters(pc.StandardWidth),
			meters(pc.LinearMeters),
		}); err != nil {
			return "", err
		}
	}
	rows := [][]string{
		{},
		{"", "TOTAL", meters(s.Platform.TotalLength), "", meters(s.Platform.TotalLinearMeters)},
		{},
		{"Plataforma", s.Platform.Number},
		{"Materiales", strings.Join(domain.MaterialTypes(s.Pieces), ", ")},
		{"Proveedor", s.Platform.Provider},
		{"Chofer", s.Platform.Driver},
		{"Fecha de recepción", s.Platform.ReceptionDate},
		{"Piezas", strconv.Itoa(len(s.Pieces))},
		{"Metros lineales totales", meters(s.Platform.TotalLinearMeters)},
	}
	for _, row := range rows {
		// an empty record writes a bare separator line
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var printTmpl = template.Must(template.New("print").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>Plataforma {{.Platform.Number}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
th, td { border: 1px solid #444; padding: 4px 8px; text-align: left; }
tfoot td { font-weight: bold; }
dl { display: grid; grid-template-columns: max-content auto; gap: 2px 12px; }
dt { font-weight: bold; }
.signature img { max-width: 320px; border: 1px solid #999; }
</style>
</head>
<body>
<h1>Plataforma {{.Platform.Number}}</h1>
<table>
<thead>
<tr><th>No.</th><th>Material</th><th>Longitud (m)</th><th>Ancho (m)</th><th>Metros Lineales</th></tr>
</thead>
<tbody>
{{- range .Pieces}}
<tr><td>{{.Number}}</td><td>{{.Material}}</td><td>{{.Length.StringFixed 2}}</td><td>{{.StandardWidth.StringFixed 2}}</td><td>{{.LinearMeters.StringFixed 2}}</td></tr>
{{- end}}
</tbody>
<tfoot>
<tr><td></td><td>TOTAL</td><td>{{.Platform.TotalLength.StringFixed 2}}</td><td></td><td>{{.Platform.TotalLinearMeters.StringFixed 2}}</td></tr>
</tfoot>
</table>
<dl>
<dt>Proveedor</dt><dd>{{.Platform.Provider}}</dd>
<dt>Chofer</dt><dd>{{.Platform.Driver}}</dd>
<dt>Fecha de recepción</dt><dd>{{.Platform.ReceptionDate}}</dd>
<dt>Piezas</dt><dd>{{len .Pieces}}</dd>
<dt>Metros lineales totales</dt><dd>{{.Platform.TotalLinearMeters.StringFixed 2}}</dd>
</dl>
{{- if .SignatureData}}
<div class="signature">
<p>Firma de recibido:</p>
<img src="{{.SignatureData}}" alt="firma">
</div>
{{- end}}
</body>
</html>
`))

type printData struct {
	Snapshot
	SignatureData template.URL
}

// PrintHTML renders a self-contained print-ready page. signatureData, when
// non-empty, is an image data URL embedded as the signature block.
func PrintHTML(s Snapshot, signatureData string) (string, error) {
	var buf bytes.Buffer
	err := printTmpl.Execute(&buf, printData{Snapshot: s, SignatureData: template.URL(signatureData)})
	if err != nil {
		return "", fmt.Errorf("render print view: %w", err)
	}
	return buf.String(), nil
}
