// Package notify implements renewal.NotificationSender over SMTP and a
// logging sender for local runs.
package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/warp/renewal-engine/renewal"
)

// Rendered is a ready-to-send message.
type Rendered struct {
	Subject string
	HTML    string
}

var funcs = template.FuncMap{
	"date": func(v any) string {
		type formatter interface{ Format(string) string }
		if f, ok := v.(formatter); ok {
			return f.Format("02 Jan 2006")
		}
		return fmt.Sprint(v)
	},
}

var bodies = map[renewal.TemplateKind]*template.Template{
	renewal.TemplatePolicyRenewal: template.Must(template.New("policy").Funcs(funcs).Parse(`<html>
<body>
	<h2>Your {{.Label}} policy is due for renewal</h2>
	<p>Dear {{.HolderName}},</p>
	<p>Policy <strong>{{.PolicyNumber}}</strong> expires on <strong>{{date .ExpiryDate}}</strong>,
	in {{.DaysRemaining}} day(s).</p>
	<table>
		<tr><td>Term</td><td>{{date .StartDate}} to {{date .ExpiryDate}}</td></tr>
		<tr><td>Net premium</td><td>{{.NetPremium.StringFixed 2}}</td></tr>
		<tr><td>Tax</td><td>{{.TaxAmount.StringFixed 2}}</td></tr>
		<tr><td>Gross premium</td><td>{{.GrossPremium.StringFixed 2}}</td></tr>
	</table>
	<p>Please contact us to renew before the expiry date.</p>
	<p><small>Reminder {{.ReminderNumber}} of {{.ReminderTimes}}</small></p>
</body>
</html>`)),

	renewal.TemplateLicenseRenewal: template.Must(template.New("license").Funcs(funcs).Parse(`<html>
<body>
	<h2>Your {{.Label}} is due for renewal</h2>
	<p>Dear {{.HolderName}},</p>
	<p>Certificate <strong>{{.PolicyNumber}}</strong> is valid until <strong>{{date .ExpiryDate}}</strong>,
	{{.DaysRemaining}} day(s) from today.</p>
	<p>Renewing late may interrupt your filings. Please start the renewal now.</p>
	<p><small>Reminder {{.ReminderNumber}} of {{.ReminderTimes}}</small></p>
</body>
</html>`)),
}

var labels = map[renewal.PolicyType]string{
	renewal.TypeFire:                 "fire insurance",
	renewal.TypeHealth:               "health insurance",
	renewal.TypeLife:                 "life insurance",
	renewal.TypeVehicle:              "vehicle insurance",
	renewal.TypeEmployeeCompensation: "employee compensation",
	renewal.TypeDSC:                  "digital signature certificate",
	renewal.TypeLabourLicense:        "labour license",
}

type view struct {
	renewal.ReminderPayload
	Label string
}

// Render builds the subject and HTML body for a reminder.
func Render(kind renewal.TemplateKind, p renewal.ReminderPayload) (Rendered, error) {
	tmpl, ok := bodies[kind]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown template %q", kind)
	}
	label := labels[p.PolicyType]
	if label == "" {
		label = string(p.PolicyType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view{ReminderPayload: p, Label: label}); err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", kind, err)
	}

	return Rendered{
		Subject: fmt.Sprintf("Renewal reminder: %s %s expires in %d day(s)", label, p.PolicyNumber, p.DaysRemaining),
		HTML:    buf.String(),
	}, nil
}
