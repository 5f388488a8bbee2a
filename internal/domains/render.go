package domains

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/marcus-qen/incidentd/internal/incident"
)

type templateRenderer struct {
	title   *template.Template
	message *template.Template
}

var _ incident.MessageRenderer = templateRenderer{}

// Render implements incident.MessageRenderer.
func (r templateRenderer) Render(data incident.MessageData) (string, string, error) {
	title, err := execute(r.title, data)
	if err != nil {
		return "", "", err
	}
	message, err := execute(r.message, data)
	if err != nil {
		return "", "", err
	}
	return title, message, nil
}

func execute(t *template.Template, data incident.MessageData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
