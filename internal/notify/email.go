// Package notify delivers best-effort settlement emails through the
// ZeptoMail HTTP API. Delivery failures are logged and reported as
// delivered=false; they never propagate to settlement.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

type emailRequest struct {
	From     emailAddress  `json:"from"`
	To       []toRecipient `json:"to"`
	Subject  string        `json:"subject"`
	HtmlBody string        `json:"htmlbody"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type toRecipient struct {
	Email emailWithName `json:"email_address"`
}

type emailWithName struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Mailer sends settlement notifications. A zero-config Mailer is valid and
// simply reports every send as undelivered.
type Mailer struct {
	APIURL     string
	APIKey     string
	From       string
	HTTPClient *http.Client
}

func NewMailer(apiURL, apiKey, from string) *Mailer {
	return &Mailer{
		APIURL:     apiURL,
		APIKey:     apiKey,
		From:       from,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GiftReceived tells the event owner a contribution landed.
func (m *Mailer) GiftReceived(ctx context.Context, ownerEmail, ownerName, contributorName string, amount int64, eventTitle, message string, isAsoebi bool) bool {
	kind := "cash gift"
	if isAsoebi {
		kind = "Asoebi order"
	}
	subject := fmt.Sprintf("You received a %s for %s", kind, eventTitle)
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p><strong>%s</strong> just sent a %s of &#8358;%s for <strong>%s</strong>.</p>",
		ownerName, contributorName, kind, naira(amount), eventTitle)
	if message != "" {
		body += fmt.Sprintf("<p>Their message: %q</p>", message)
	}
	return m.send(ctx, ownerEmail, ownerName, subject, body)
}

// ThankYou acknowledges the contributor.
func (m *Mailer) ThankYou(ctx context.Context, contributorEmail, contributorName string, amount int64, eventTitle string, isAsoebi bool) bool {
	kind := "gift"
	if isAsoebi {
		kind = "Asoebi order"
	}
	subject := fmt.Sprintf("Thank you for your %s", kind)
	body := fmt.Sprintf(
		"<p>Dear %s,</p><p>Your %s of &#8358;%s for <strong>%s</strong> was received. Thank you!</p>",
		contributorName, kind, naira(amount), eventTitle)
	return m.send(ctx, contributorEmail, contributorName, subject, body)
}

func (m *Mailer) send(ctx context.Context, to, toName, subject, htmlBody string) bool {
	if m.APIURL == "" || m.APIKey == "" || m.From == "" {
		log.Println("email not configured, skipping notification")
		return false
	}

	payload := emailRequest{
		From:     emailAddress{Address: m.From},
		To:       []toRecipient{{Email: emailWithName{Address: to, Name: toName}}},
		Subject:  subject,
		HtmlBody: htmlBody,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("email payload encode failed: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.APIURL, bytes.NewReader(data))
	if err != nil {
		log.Printf("email request build failed: %v", err)
		return false
	}
	req.Header.Set("Authorization", m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		log.Printf("email send to %s failed: %v", to, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("email send to %s rejected with status %d", to, resp.StatusCode)
		return false
	}
	return true
}

// naira renders a kobo amount as a major-unit string for email copy.
func naira(kobo int64) string {
	return fmt.Sprintf("%d.%02d", kobo/100, kobo%100)
}
