package engine

import (
	"bytes"
	"context"
	"errors"
	"text/template"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"skillsim/internal/models"
)

// MentorGreeting is shown locally when the chat opens, without a
// backend round trip.
const MentorGreeting = "Hi! I'm your mentor for this simulation. Ask me anything about the scenario, your answers so far, or the skills you're practicing."

// MentorApology replaces an in-progress reply when streaming fails.
const MentorApology = "I'm sorry, something went wrong while I was answering. Please ask me again."

var mentorPreambleTmpl = template.Must(template.New("mentor_preamble").Parse(mentorPreamblePrompt))

// MentorChat is an ephemeral conversational channel seeded with the
// scenario and the history at open time. It is never persisted; closing
// the dialog discards it, and reopening builds a fresh one.
type MentorChat struct {
	chat *genai.ChatSession
}

// StartMentorChat opens a new channel. The preamble and the greeting are
// seeded into the conversation history so the backend sees the same
// transcript the user does.
func (e *Engine) StartMentorChat(scenario string, history []models.HistoryItem) *MentorChat {
	var buf bytes.Buffer
	data := struct {
		Scenario string
		History  string
	}{Scenario: scenario, History: historyTranscript(history)}
	// Static template over strings; cannot fail.
	_ = mentorPreambleTmpl.Execute(&buf, data)

	chat := e.model.StartChat()
	chat.History = []*genai.Content{
		{Role: "user", Parts: []genai.Part{genai.Text(buf.String())}},
		{Role: "model", Parts: []genai.Part{genai.Text(MentorGreeting)}},
	}
	return &MentorChat{chat: chat}
}

// Send forwards one user message and returns the streamed reply.
func (mc *MentorChat) Send(ctx context.Context, msg string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	it := mc.chat.SendMessageStream(ctx, genai.Text(msg))
	return &Stream{
		next:   it.Next,
		cancel: cancel,
	}
}

// ErrStreamDone signals the end of a reply stream.
var ErrStreamDone = errors.New("mentor stream done")

// Stream is a finite, non-restartable producer of text increments.
// Increments are concatenated in arrival order into one growing
// message. Next returns ErrStreamDone after the final increment; any
// other error ends the stream too. The turn's context is released on
// every terminal path, so neither a finished nor a failed stream leaks
// it; Close releases it early.
type Stream struct {
	next   func() (*genai.GenerateContentResponse, error)
	cancel context.CancelFunc
}

func (s *Stream) Next() (string, error) {
	resp, err := s.next()
	if errors.Is(err, iterator.Done) {
		s.cancel()
		return "", ErrStreamDone
	}
	if err != nil {
		s.cancel()
		return "", err
	}
	text, err := responseText(resp)
	if err != nil {
		// A keepalive chunk without text; skip it.
		return "", nil
	}
	return text, nil
}

// Close tears down the in-flight turn. Safe to call at any point;
// pending Next calls fail promptly.
func (s *Stream) Close() {
	s.cancel()
}
