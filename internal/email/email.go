package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
)

type Config struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

func (c *Config) IsConfigured() bool {
	return c.Host != "" && c.From != ""
}

// SendResults mails the results export for raceID as an attachment.
func (c *Config) SendResults(to []string, raceID, filename, csvBody string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg, err := c.resultsMessage(to, raceID, filename, csvBody)
	if err != nil {
		return err
	}

	addr := c.Host + ":" + c.Port

	var auth smtp.Auth
	if c.User != "" {
		auth = smtp.PlainAuth("", c.User, c.Pass, c.Host)
	}

	if err := smtp.SendMail(addr, auth, c.From, to, msg); err != nil {
		return fmt.Errorf("sending results for %s: %w", raceID, err)
	}
	return nil
}

func (c *Config) resultsMessage(to []string, raceID, filename, csvBody string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	text, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "Results for %s are attached.\r\n", raceID)

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/csv; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(csvBody))
	for len(encoded) > 76 {
		fmt.Fprintf(attachment, "%s\r\n", encoded[:76])
		encoded = encoded[76:]
	}
	fmt.Fprintf(attachment, "%s\r\n", encoded)

	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg,
		"From: %s\r\nTo: %s\r\nSubject: Race results - %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=%s\r\n\r\n",
		c.From, strings.Join(to, ", "), raceID, mw.Boundary(),
	)
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
