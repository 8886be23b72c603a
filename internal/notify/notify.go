// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package notify is the chat-notification sink the Scheduler emits
// progress and final-status summaries to. It is a thin send/update
// contract over the Slack Web API (chat.postMessage / chat.update),
// grounded in the original control plane's slack_notifications.py.
// Failures are logged and swallowed: they must never interrupt the
// scheduling loop.
package notify

import (
	goctx "context"
	"strings"

	"github.com/slack-go/slack"

	pipelineerrors "github.com/ai4up/slurm-pipeline/pkg/errors"
	"github.com/ai4up/slurm-pipeline/pkg/logging"
	"github.com/ai4up/slurm-pipeline/pkg/metrics"
)

// messageLimit is Slack's practical per-message character budget; longer
// text is split on line boundaries while keeping triple-backtick code
// fences balanced within each chunk.
const messageLimit = 4000

// Sink is the notification contract the Scheduler depends on: send a
// new message and, once a thread exists, update it in place.
type Sink interface {
	Send(ctx goctx.Context, text, channel, token, threadID string) (ts, respChannel string, err error)
	Update(ctx goctx.Context, text, channel, token, ts string) (newTS, respChannel string, err error)
}

// NoOpSink is used when no Slack channel/token is configured, matching
// the original's "No notification hook configured" fallback.
type NoOpSink struct{}

func (NoOpSink) Send(goctx.Context, string, string, string, string) (string, string, error) {
	return "", "", nil
}

func (NoOpSink) Update(goctx.Context, string, string, string, string) (string, string, error) {
	return "", "", nil
}

// SlackSink sends/updates messages via the Slack Web API.
type SlackSink struct {
	logger     logging.Logger
	metrics    metrics.Collector
	clientOpts []slack.Option
}

// New constructs a SlackSink. clientOpts are forwarded to slack.New on
// every call (e.g. slack.OptionAPIURL to point at a fake server in tests).
func New(logger logging.Logger, collector metrics.Collector, clientOpts ...slack.Option) *SlackSink {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &SlackSink{logger: logger, metrics: collector, clientOpts: clientOpts}
}

// Send posts text to channel, optionally threaded under threadID. Long
// text is split across multiple calls; the first call's ts is returned
// as the thread id for subsequent Update calls.
func (s *SlackSink) Send(ctx goctx.Context, text, channel, token, threadID string) (string, string, error) {
	client := slack.New(token, s.clientOpts...)
	var firstTS, respChannel string

	for i, chunk := range SplitMessage(text, messageLimit) {
		s.metrics.RecordRequest("chat.send", channel)
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadID != "" {
			opts = append(opts, slack.MsgOptionTS(threadID))
		}

		var ts string
		var err error
		respChannel, ts, err = client.PostMessageContext(ctx, channel, opts...)
		if err != nil {
			s.metrics.RecordError("chat.send", channel, err)
			wrapped := pipelineerrors.WrapChatError("send", channel, err)
			s.logger.Error("failed to send slack message", "channel", channel, "error", wrapped.Error())
			return firstTS, respChannel, wrapped
		}
		s.metrics.RecordResponse("chat.send", channel, 0, 0)

		if i == 0 {
			firstTS = ts
		}
	}

	return firstTS, respChannel, nil
}

// Update replaces the text of the message at ts in channel.
func (s *SlackSink) Update(ctx goctx.Context, text, channel, token, ts string) (string, string, error) {
	client := slack.New(token, s.clientOpts...)

	s.metrics.RecordRequest("chat.update", channel)
	respChannel, newTS, _, err := client.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
	if err != nil {
		s.metrics.RecordError("chat.update", channel, err)
		wrapped := pipelineerrors.WrapChatError("update", channel, err)
		s.logger.Error("failed to update slack message", "channel", channel, "ts", ts, "error", wrapped.Error())
		return ts, channel, wrapped
	}
	s.metrics.RecordResponse("chat.update", channel, 0, 0)

	return newTS, respChannel, nil
}

// SplitMessage splits text into chunks no longer than limit characters,
// breaking only on line boundaries and never inside an open triple-
// backtick code block: a chunk that would close an odd number of open
// fences is extended to the next line boundary instead.
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	lines := strings.Split(text, "\n")
	var chunks []string
	var cur strings.Builder
	openFences := 0

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSuffix(cur.String(), "\n"))
			cur.Reset()
		}
	}

	for _, line := range lines {
		candidateLen := cur.Len() + len(line) + 1
		fenceDelta := strings.Count(line, "```")

		if candidateLen > limit && openFences%2 == 0 && cur.Len() > 0 {
			flush()
		}

		cur.WriteString(line)
		cur.WriteString("\n")
		openFences += fenceDelta
	}
	flush()

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
