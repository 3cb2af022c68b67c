// Package extract turns fetched page content into raw visa records.
package extract

import (
	"context"
	"io"
)

// Page is the scoped content of one fetched page.
type Page struct {
	URL       string
	Country   string
	SessionID string
	Content   string
}

// Strategy converts page content into a JSON payload of candidate records.
// An empty payload with a nil error means the page held nothing to extract.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page Page) (string, error)
	ReportUsage(w io.Writer)
}
