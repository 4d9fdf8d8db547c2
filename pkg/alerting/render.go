package alerting

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cuemby/tether/pkg/types"
)

// Message is a rendered alert email
type Message struct {
	Subject string
	Body    string
}

// AffectedSession is one session listed in a tenant alert
type AffectedSession struct {
	Session  *types.Session
	Reason   Reason
	Since    time.Time
	Duration time.Duration
}

// TemplateData is what alert templates can reference
type TemplateData struct {
	TenantID    string
	TenantName  string
	Sessions    []SessionLine
	GeneratedAt time.Time
}

// SessionLine is the display form of an AffectedSession
type SessionLine struct {
	ID       string
	Channel  string
	Status   string
	Reason   string
	Since    string
	Duration string
}

const subjectTemplate = `{{ if eq (len .Sessions) 1 }}A messaging channel needs attention{{ else }}{{ len .Sessions }} messaging channels need attention{{ end }}{{ with .TenantName }} ({{ . }}){{ end }}`

const bodyTemplate = `Hello,

The following messaging channels{{ with .TenantName }} of {{ . }}{{ end }} are not connected:
{{ range .Sessions }}
  - {{ .ID }}{{ with .Channel }} ({{ . }}){{ end }}: {{ .Reason }}, status {{ .Status }}, since {{ .Since }} ({{ .Duration }})
{{- end }}

Channels waiting for re-authentication must be paired again from the
dashboard. Automatic reconnection continues for the others.

You will not receive another alert for these channels until they have
reconnected.
`

var (
	subjectTmpl = template.Must(template.New("subject").Parse(subjectTemplate))
	bodyTmpl    = template.Must(template.New("body").Parse(bodyTemplate))
)

// Render builds the single email sent to a tenant for all affected sessions
func Render(tenant *types.Tenant, tenantID string, affected []AffectedSession, now time.Time) (Message, error) {
	data := TemplateData{
		TenantID:    tenantID,
		GeneratedAt: now,
	}
	if tenant != nil {
		data.TenantName = tenant.Name
	}
	for _, a := range affected {
		data.Sessions = append(data.Sessions, SessionLine{
			ID:       a.Session.ID,
			Channel:  a.Session.Channel,
			Status:   string(a.Session.Status),
			Reason:   a.Reason.Describe(),
			Since:    a.Since.UTC().Format(time.RFC3339),
			Duration: humanize.RelTime(a.Since, now, "ago", "from now"),
		})
	}

	var subject, body bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("failed to render body: %w", err)
	}
	return Message{Subject: strings.TrimSpace(subject.String()), Body: body.String()}, nil
}
