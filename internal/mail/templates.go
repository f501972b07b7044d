package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

const (
	VerificationSubject = "Your LinguaChat verification code"
	ResetSubject        = "Your LinguaChat password reset code"
)

var codeTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; color: #1f2937;">
    <p>Hi {{.Name}},</p>
    <p>{{.Intro}}</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
    <p>This code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.</p>
    <p>The LinguaChat team</p>
  </body>
</html>
`))

type codeView struct {
	Name    string
	Intro   string
	Code    string
	Minutes int
}

// VerificationMessage builds the email that carries a signup verification code.
func VerificationMessage(to, name, code string, ttl time.Duration) (Message, error) {
	return codeMessage(to, VerificationSubject, codeView{
		Name:  name,
		Intro: "Welcome to LinguaChat! Use this code to verify your email address:",
		Code:  code,
	}, ttl)
}

// ResetMessage builds the email that carries a password reset code.
func ResetMessage(to, name, code string, ttl time.Duration) (Message, error) {
	return codeMessage(to, ResetSubject, codeView{
		Name:  name,
		Intro: "We received a request to reset your password. Use this code to continue:",
		Code:  code,
	}, ttl)
}

func codeMessage(to, subject string, view codeView, ttl time.Duration) (Message, error) {
	if view.Name == "" {
		view.Name = "there"
	}
	view.Minutes = int(ttl.Round(time.Minute) / time.Minute)

	var buf bytes.Buffer
	if err := codeTemplate.Execute(&buf, view); err != nil {
		return Message{}, fmt.Errorf("render %q: %w", subject, err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}
