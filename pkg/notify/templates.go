package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/platinummonkey/ga4access/pkg/grants"
	"github.com/platinummonkey/ga4access/pkg/roles"
)

// TemplateData is the value every template is executed against
type TemplateData struct {
	AppName       string
	AppURL        string
	RecipientName string
	Recipient     string
	Grant         *grants.Grant
	Days          int
	PreviousRole  roles.GA4Role
	Reason        string
	Summary       *grants.Summary
	Counts        map[string]int
}

// Rendered is a fully rendered email
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type messageDef struct {
	subject string
	body    string
}

var expiryWarning = messageDef{
	subject: `Your {{.Grant.Role}} access to GA4 property {{.Grant.PropertyID}} expires {{if eq .Days 0}}today{{else}}in {{.Days}} day{{if ne .Days 1}}s{{end}}{{end}}`,
	body: `Access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} expires on {{date .Grant.ExpiresAt}}.

Request an extension at {{.AppURL}} before then to keep access.`,
}

var definitions = map[Type]messageDef{
	TypeWelcome: {
		subject: `Welcome to {{.AppName}}`,
		body: `Hi {{.RecipientName}},

Your account has been created. You can now request access to Google Analytics 4 properties at {{.AppURL}}.`,
	},
	TypeExpiryWarning30: expiryWarning,
	TypeExpiryWarning7:  expiryWarning,
	TypeExpiryWarning1:  expiryWarning,
	TypeExpiryWarning0:  expiryWarning,
	TypeExpired: {
		subject: `Your access to GA4 property {{.Grant.PropertyID}} has expired`,
		body: `The {{.Grant.Role}} access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} expired and has been removed.

Submit a new request at {{.AppURL}} if you still need access.`,
	},
	TypeEditorAutoDowngrade: {
		subject: `Your access to GA4 property {{.Grant.PropertyID}} was reduced to {{.Grant.Role}}`,
		body: `Elevated access is time limited. The access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} was changed from {{.PreviousRole}} to {{.Grant.Role}}.

It remains active until {{date .Grant.ExpiresAt}}.`,
	},
	TypeExtensionApproved: {
		subject: `Your access to GA4 property {{.Grant.PropertyID}} was extended`,
		body: `The {{.Grant.Role}} access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} now expires on {{date .Grant.ExpiresAt}}.

This grant has been extended {{.Grant.ExtensionCount}} time{{if ne .Grant.ExtensionCount 1}}s{{end}}.`,
	},
	TypePendingApproval: {
		subject: `Approval needed: {{.Grant.Role}} access to GA4 property {{.Grant.PropertyID}}`,
		body: `{{.Grant.SubjectEmail}} is waiting for {{.Grant.Role}} access on GA4 property {{.Grant.PropertyID}}.
{{if .Grant.Reason}}
Reason given: {{.Grant.Reason}}
{{end}}
Review the request at {{.AppURL}}/grants/{{.Grant.ID}}.`,
	},
	TypeAdminNotification: {
		subject: `{{.AppName}} daily summary for {{date .Summary.Date}}`,
		body: `Grant totals:
pending approval: {{index .Counts "PENDING_APPROVAL"}}
active: {{index .Counts "ACTIVE"}}
expired: {{index .Counts "EXPIRED"}}
rejected: {{index .Counts "REJECTED"}}

Expiring within 7 days: {{.Summary.ExpiringIn7Days}}
Active editor or administrator grants: {{.Summary.ElevatedActive}}
Waiting for GA4 sync: {{.Summary.Unsynced}}
Pending for more than a day: {{.Summary.PendingOlderThan}}`,
	},
	TypeGrantApproved: {
		subject: `Your {{.Grant.Role}} access to GA4 property {{.Grant.PropertyID}} is active`,
		body: `Access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} is active until {{date .Grant.ExpiresAt}}.
{{if not .Grant.GA4Registered}}
Google Analytics is still being updated. The access may take a short while to appear.
{{end}}`,
	},
	TypeGrantRejected: {
		subject: `Your request for GA4 property {{.Grant.PropertyID}} was rejected`,
		body: `The request for {{.Grant.Role}} access for {{.Grant.SubjectEmail}} on GA4 property {{.Grant.PropertyID}} was rejected.
{{if .Grant.RejectionReason}}
Reason: {{.Grant.RejectionReason}}
{{end}}`,
	},
}

const htmlLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #202124;">
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}<p style="color: #5f6368; font-size: 12px;"><a href="{{.AppURL}}">{{.AppName}}</a></p>
</body>
</html>`

var funcs = template.FuncMap{
	"date": formatDate,
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Renderer renders notification emails
type Renderer struct {
	appName   string
	appURL    string
	templates map[Type]compiled
	layout    *htmltemplate.Template
}

// NewRenderer parses every template; it fails if any definition is missing
// or malformed.
func NewRenderer(appName, appURL string) (*Renderer, error) {
	r := &Renderer{
		appName:   appName,
		appURL:    strings.TrimRight(appURL, "/"),
		templates: make(map[Type]compiled, len(definitions)),
	}

	for _, t := range AllTypes() {
		def, ok := definitions[t]
		if !ok {
			return nil, fmt.Errorf("no template defined for %s", t)
		}
		subject, err := template.New(string(t) + ".subject").Funcs(funcs).Option("missingkey=zero").Parse(def.subject)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s subject: %w", t, err)
		}
		body, err := template.New(string(t) + ".body").Funcs(funcs).Option("missingkey=zero").Parse(def.body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s body: %w", t, err)
		}
		r.templates[t] = compiled{subject: subject, body: body}
	}

	layout, err := htmltemplate.New("layout").Parse(htmlLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html layout: %w", err)
	}
	r.layout = layout
	return r, nil
}

// Render executes the templates for t
func (r *Renderer) Render(t Type, data TemplateData) (Rendered, error) {
	c, ok := r.templates[t]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown notification type %q", t)
	}
	data.AppName = r.appName
	data.AppURL = r.appURL
	if data.Summary != nil && data.Counts == nil {
		data.Counts = make(map[string]int, len(data.Summary.ByStatus))
		for s, n := range data.Summary.ByStatus {
			data.Counts[string(s)] = n
		}
	}

	var subject, body bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s subject: %w", t, err)
	}
	if err := c.body.Execute(&body, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s body: %w", t, err)
	}
	text := strings.TrimSpace(body.String())

	var html bytes.Buffer
	err := r.layout.Execute(&html, map[string]interface{}{
		"AppName":    r.appName,
		"AppURL":     r.appURL,
		"Paragraphs": paragraphs(text),
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render %s html: %w", t, err)
	}

	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Text:    text,
		HTML:    html.String(),
	}, nil
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatDate(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2 Jan 2006")
	case *time.Time:
		if t == nil {
			return "an unknown date"
		}
		return t.Format("2 Jan 2006")
	}
	return ""
}
