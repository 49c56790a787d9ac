package email

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	if (&Config{}).IsConfigured() {
		t.Error("empty config should not be configured")
	}
	if !(&Config{Host: "smtp.example.org", From: "timing@example.org"}).IsConfigured() {
		t.Error("host and from should be enough")
	}
}

func TestSendResults_NotConfigured(t *testing.T) {
	c := &Config{}
	if err := c.SendResults([]string{"a@example.org"}, "r1", "r1_Results.csv", "x"); err == nil {
		t.Error("SendResults without SMTP host should fail")
	}
}

func TestResultsMessage(t *testing.T) {
	c := &Config{Host: "smtp.example.org", Port: "25", From: "timing@example.org"}
	csvBody := "Rank,Rider Number\n1,101\n"

	raw, err := c.resultsMessage([]string{"a@example.org", "b@example.org"}, "enduro-1", "enduro-1_Results.csv", csvBody)
	if err != nil {
		t.Fatalf("resultsMessage: %v", err)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got := msg.Header.Get("Subject"); got != "Race results - enduro-1" {
		t.Errorf("Subject = %q", got)
	}
	if got := msg.Header.Get("To"); got != "a@example.org, b@example.org" {
		t.Errorf("To = %q", got)
	}

	_, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("ParseMediaType: %v", err)
	}
	mr := multipart.NewReader(msg.Body, params["boundary"])

	if _, err := mr.NextPart(); err != nil {
		t.Fatalf("text part: %v", err)
	}
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("attachment part: %v", err)
	}
	if part.FileName() != "enduro-1_Results.csv" {
		t.Errorf("FileName = %q", part.FileName())
	}
	encoded, err := io.ReadAll(part)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	if err != nil {
		t.Fatalf("decode attachment: %v", err)
	}
	if string(decoded) != csvBody {
		t.Errorf("attachment = %q, want %q", decoded, csvBody)
	}
}
