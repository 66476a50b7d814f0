package notify

import (
	"bytes"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// renderTemplate executes a user template against stats plus a few preformatted fields.
func renderTemplate(name, text string, stats Stats) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, err
	}

	errText := ""
	if stats.Error != nil {
		errText = stats.Error.Error()
	}

	var buf bytes.Buffer
	data := struct {
		Stats
		FormattedDuration string
		FormattedSize     string
		ErrorText         string
	}{
		Stats:             stats,
		FormattedDuration: stats.Duration.Truncate(time.Second).String(),
		FormattedSize:     humanize.IBytes(uint64(max(stats.Size, 0))),
		ErrorText:         errText,
	}

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
