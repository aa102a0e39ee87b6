// Package chat answers questions from retrieved document chunks and keeps
// the running conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fabfab/docbot/index"
	"github.com/fabfab/docbot/llm"
)

// ErrEmptyQuestion is returned for questions that are blank after trimming.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Retriever returns the chunks most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]index.Match, error)
}

type Config struct {
	// SimilarityLimit is the number of chunks retrieved per question; zero
	// uses the retriever's default.
	SimilarityLimit int
}

type Service struct {
	retriever Retriever
	graph     GraphStore
	llm       llm.Client
	logger    *log.Logger
}

func NewService(retriever Retriever, graph GraphStore, llmClient llm.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		retriever: retriever,
		graph:     graph,
		llm:       llmClient,
		logger:    logger,
	}
}

// Chat answers question given the prior turns. history is only read.
func (s *Service) Chat(ctx context.Context, question string, history []Turn, cfg Config) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, ErrEmptyQuestion
	}
	if s.retriever == nil {
		return Response{}, fmt.Errorf("retriever is not configured")
	}
	if s.llm == nil {
		return Response{}, fmt.Errorf("llm client is not configured")
	}

	standalone := question
	if len(history) > 0 {
		condensed, err := s.llm.Generate(ctx, condenseMessages(question, history))
		if err != nil {
			return Response{}, fmt.Errorf("condense question: %w", err)
		}
		if condensed = strings.TrimSpace(condensed); condensed != "" {
			standalone = condensed
		}
	}

	matches, err := s.retriever.Retrieve(ctx, standalone, cfg.SimilarityLimit)
	if err != nil {
		return Response{}, fmt.Errorf("retrieve context: %w", err)
	}
	if len(matches) == 0 {
		s.logger.Printf("no context available for question")
	}

	insights := map[string]DocumentInsight{}
	if s.graph != nil && len(matches) > 0 {
		docIDs := make([]string, 0, len(matches))
		for _, match := range matches {
			docIDs = append(docIDs, match.Chunk.DocumentID)
		}
		insightMap, insightErr := s.graph.DocumentInsights(ctx, unique(docIDs))
		if insightErr != nil {
			s.logger.Printf("graph insights error: %v", insightErr)
		} else {
			insights = insightMap
		}
	}

	sources := mergeSources(matches, insights)
	messages := answerMessages(standalone, buildContextPrompt(sources), history)

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return Response{}, fmt.Errorf("llm generate: %w", err)
	}

	return Response{Answer: strings.TrimSpace(answer), Sources: sources}, nil
}

// mergeSources groups matches by document, keeping the order of first
// appearance. Matches arrive best first, so that order is by score.
func mergeSources(matches []index.Match, insights map[string]DocumentInsight) []Source {
	sources := make([]Source, 0, len(matches))
	position := make(map[string]int, len(matches))
	for _, match := range matches {
		chunk := match.Chunk
		if idx, ok := position[chunk.DocumentID]; ok {
			sources[idx].Snippet += "\n\n" + chunk.Content
			continue
		}
		position[chunk.DocumentID] = len(sources)
		sources = append(sources, Source{
			DocumentID: chunk.DocumentID,
			Title:      chunk.Title,
			Path:       chunk.Path,
			Snippet:    chunk.Content,
			Score:      match.Score,
			Insight:    insights[chunk.DocumentID],
		})
	}
	return sources
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
