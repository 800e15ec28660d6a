package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/arklim/storefront-signup/internal/core/port"
)

var (
	otpTemplate = template.Must(template.New("otp").Parse(`Hello {{.Name}},

{{if .Resend}}Here is your new verification code{{else}}Thanks for signing up. Your verification code is{{end}}:

    {{.Code}}

The code expires at {{.Expires}}. If you did not request it you can ignore this email.
`))

	welcomeTemplate = template.Must(template.New("welcome").Parse(`Hello {{.Name}},

Your account for {{.Email}} is now active. Welcome aboard.
`))

	operatorTemplate = template.Must(template.New("operator").Parse(`A new account was registered.

Name:  {{.UserName}}
Email: {{.UserEmail}}
Time:  {{.RegisteredAt}}
`))
)

type rendered struct {
	To      string
	Subject string
	Body    string
}

func renderOTP(msg port.OTPMessage) (rendered, error) {
	subject := "Your verification code"
	if msg.Resend {
		subject = "Your new verification code"
	}
	body, err := execute(otpTemplate, struct {
		port.OTPMessage
		Expires string
	}{msg, msg.ExpiresAt.UTC().Format(time.RFC1123)})
	return rendered{To: msg.Email, Subject: subject, Body: body}, err
}

func renderWelcome(msg port.WelcomeMessage) (rendered, error) {
	body, err := execute(welcomeTemplate, msg)
	return rendered{To: msg.Email, Subject: "Welcome", Body: body}, err
}

func renderOperator(msg port.OperatorMessage) (rendered, error) {
	body, err := execute(operatorTemplate, struct {
		port.OperatorMessage
		RegisteredAt string
	}{msg, msg.RegisteredAt.UTC().Format(time.RFC3339)})
	return rendered{To: msg.To, Subject: "New registration: " + msg.UserEmail, Body: body}, err
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
