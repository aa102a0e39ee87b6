package chat

import (
	"context"
	"strings"
)

// Session owns the conversation history for a single user.
type Session struct {
	service *Service
	cfg     Config
	history []Turn
}

func NewSession(service *Service, cfg Config) *Session {
	return &Session{service: service, cfg: cfg}
}

// Ask answers question with the history so far and records the turn on success.
func (s *Session) Ask(ctx context.Context, question string) (Response, error) {
	resp, err := s.service.Chat(ctx, question, s.History(), s.cfg)
	if err != nil {
		return Response{}, err
	}

	s.history = append(s.history, Turn{Question: strings.TrimSpace(question), Answer: resp.Answer})
	return resp, nil
}

// History returns a copy of the recorded turns, oldest first.
func (s *Session) History() []Turn {
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}
