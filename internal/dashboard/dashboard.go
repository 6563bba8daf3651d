// Package dashboard renders the one-page status view.
package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"furitingoasis/growbox/internal/models"
)

//go:embed templates/dashboard.html
var files embed.FS

// View is everything the page shows.
type View struct {
	Now     time.Time
	Light   models.Switch
	OnSec   int
	OffSec  int
	Reading models.SensorReading
	Entries []models.EventLogEntry
}

type page struct {
	Date        string
	Time        string
	Light       string
	OnAt        string
	OffAt       string
	Temperature string
	Humidity    string
	Soil        string
	Entries     []models.EventLogEntry
}

// Renderer holds the parsed page template.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(files, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the full HTML document. The page is rendered into a buffer first so a
// template error never leaves a half-written response.
func (r *Renderer) Render(v View) ([]byte, error) {
	p := page{
		Date:        v.Now.Format("01/02/2006"),
		Time:        v.Now.Format("15:04:05"),
		Light:       v.Light.String(),
		OnAt:        models.FormatSecOfDay(v.OnSec),
		OffAt:       models.FormatSecOfDay(v.OffSec),
		Temperature: v.Reading.TemperatureF.Format("%.1f", "°F"),
		Humidity:    v.Reading.HumidityPct.Format("%.1f", "%"),
		Soil:        v.Reading.SoilPct.Format("%.2f", "%"),
		Entries:     v.Entries,
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "dashboard.html", p); err != nil {
		return nil, fmt.Errorf("rendering dashboard: %w", err)
	}
	return buf.Bytes(), nil
}
