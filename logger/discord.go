package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

const discordPostTimeout = 10 * time.Second

// discordSink posts warn/error level records to a Discord webhook,
// prefixed with "{NODE_ENV}: " (spec §7). A failed post is itself only
// written to stderr, never escalated or retried — alerting must never
// become a reason for the pipeline to fail.
type discordSink struct {
	webhookURL string
	prefix     string
	httpClient *http.Client
}

// NewDiscordSink builds an hclog.SinkAdapter that posts to webhookURL.
// nodeEnv is used verbatim as the message prefix, e.g. "production: ".
func NewDiscordSink(webhookURL, nodeEnv string) hclog.SinkAdapter {
	return &discordSink{
		webhookURL: webhookURL,
		prefix:     nodeEnv + ": ",
		httpClient: &http.Client{Timeout: discordPostTimeout},
	}
}

type discordPayload struct {
	Content string `json:"content"`
}

// Accept implements hclog.SinkAdapter. Only warn and error records are
// forwarded; debug/info noise never reaches Discord.
func (s *discordSink) Accept(name string, level hclog.Level, msg string, args ...interface{}) {
	if level < hclog.Warn {
		return
	}

	go s.post(name, level, msg, args)
}

func (s *discordSink) post(name string, level hclog.Level, msg string, args []interface{}) {
	body, err := json.Marshal(discordPayload{
		Content: fmt.Sprintf("%s[%s] %s: %s %v", s.prefix, level.String(), name, msg, args),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "discord sink: marshal payload: %v\n", err)

		return
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "discord sink: post webhook: %v\n", err)

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "discord sink: webhook returned status %d\n", resp.StatusCode)
	}
}
