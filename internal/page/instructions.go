// Package page renders the HTML served for GET requests to an agent subdomain.
package page

import (
	_ "embed"
	"html/template"
	"io"
)

//go:embed instructions.html
var instructionsHTML string

var instructionsTmpl = template.Must(template.New("instructions").Parse(instructionsHTML))

// ContentType is the media type of the rendered page.
const ContentType = "text/html; charset=UTF-8"

// Instructions is the data shown on the agent instruction page.
type Instructions struct {
	// TargetURL is the backend URL the request would be forwarded to.
	TargetURL   string
	HeaderName  string
	HeaderValue string
}

// Render writes the instruction page for data to w.
func Render(w io.Writer, data Instructions) error {
	return instructionsTmpl.Execute(w, data)
}
