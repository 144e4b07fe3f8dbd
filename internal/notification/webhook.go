package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// webhookPayload is the JSON body posted to a sink.
type webhookPayload struct {
	Content    string `json:"content"`
	ThreadName string `json:"thread_name,omitempty"`
}

// webhookResponse carries the thread token returned when a post opens a
// new thread.
type webhookResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// webhookSink posts messages to one webhook URL.
type webhookSink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func newWebhookSink(url string, logger zerolog.Logger) *webhookSink {
	return &webhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// available reports whether the sink has a URL to post to.
func (s *webhookSink) available() bool {
	return s != nil && s.url != ""
}

// post sends one message. When threadName is set a new thread is opened
// and its token returned; when threadID is set the message lands in that
// thread.
func (s *webhookSink) post(ctx context.Context, content, threadName string, threadID ThreadID) (ThreadID, error) {
	body, err := json.Marshal(webhookPayload{Content: content, ThreadName: threadName})
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}

	url := s.url + "?wait=true"
	if threadID != "" {
		url += "&thread_id=" + string(threadID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if threadName == "" {
		return threadID, nil
	}

	var wr webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil || wr.ID == "" {
		// The post landed; synthesize a token so follow-ups still key the
		// same conversation.
		token := ThreadID(uuid.NewString())
		s.logger.Debug().Msg("webhook response carried no thread id, synthesized one")
		return token, nil
	}
	return ThreadID(wr.ID), nil
}
