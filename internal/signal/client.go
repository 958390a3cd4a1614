// Package signal talks to a signal-cli REST gateway. It is the hub's only
// messaging transport: outbound sends (optionally with a base64 attachment)
// and inbound receive polling both go through this client.
package signal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/homehub/internal/router"
)

const defaultTimeout = 30 * time.Second

// Client is safe for concurrent use; it holds no mutable state beyond the
// underlying http.Client.
type Client struct {
	baseURL string
	number  string
	http    *http.Client
}

// NewClient builds a gateway client for the given account number.
func NewClient(baseURL, number string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		number:  number,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type sendRequest struct {
	Message           string   `json:"message"`
	Number            string   `json:"number"`
	Recipients        []string `json:"recipients"`
	TextMode          string   `json:"text_mode"`
	Base64Attachments []string `json:"base64_attachments"`
}

// Send delivers styled text to one recipient.
func (c *Client) Send(ctx context.Context, recipient router.Recipient, text string) error {
	return c.post(ctx, sendRequest{
		Message:           text,
		Number:            c.number,
		Recipients:        []string{string(recipient)},
		TextMode:          "styled",
		Base64Attachments: []string{},
	})
}

// SendFile delivers text plus a file attachment encoded as a data URI.
func (c *Client) SendFile(ctx context.Context, recipient router.Recipient, text, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	attachment := fmt.Sprintf("data:%s;filename=%s;base64,%s",
		mimeType, filepath.Base(path), base64.StdEncoding.EncodeToString(data))

	return c.post(ctx, sendRequest{
		Message:           text,
		Number:            c.number,
		Recipients:        []string{string(recipient)},
		TextMode:          "styled",
		Base64Attachments: []string{attachment},
	})
}

func (c *Client) post(ctx context.Context, payload sendRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway send returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Inbound is one routable command extracted from the receive endpoint.
type Inbound struct {
	Key  router.RoutingKey
	Text string
}

// envelope mirrors the gateway's receive payload. Commands sent from the
// account owner's own devices arrive wrapped in syncMessage.sentMessage
// instead of dataMessage and must route identically.
type envelope struct {
	Envelope struct {
		Source      string       `json:"source"`
		DataMessage *messageBody `json:"dataMessage"`
		SyncMessage *struct {
			SentMessage *messageBody `json:"sentMessage"`
		} `json:"syncMessage"`
	} `json:"envelope"`
}

type messageBody struct {
	Message   string `json:"message"`
	GroupInfo *struct {
		GroupID string `json:"groupId"`
	} `json:"groupInfo"`
}

// Receive drains the gateway's message queue and returns the command
// messages in arrival order. Non-command texts (no leading slash) and
// envelopes without a message body are discarded here, before routing.
func (c *Client) Receive(ctx context.Context) ([]Inbound, error) {
	url := fmt.Sprintf("%s/v1/receive/%s", c.baseURL, c.number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build receive request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("receive from gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway receive returned %d", resp.StatusCode)
	}

	var envelopes []envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("decode receive payload: %w", err)
	}

	var inbound []Inbound
	for _, env := range envelopes {
		msg := env.Envelope.DataMessage
		if msg == nil && env.Envelope.SyncMessage != nil {
			msg = env.Envelope.SyncMessage.SentMessage
		}
		if msg == nil || msg.Message == "" || !strings.HasPrefix(msg.Message, "/") {
			continue
		}

		key := env.Envelope.Source
		if msg.GroupInfo != nil && msg.GroupInfo.GroupID != "" {
			key = msg.GroupInfo.GroupID
		}
		inbound = append(inbound, Inbound{Key: router.RoutingKey(key), Text: msg.Message})
	}
	return inbound, nil
}
