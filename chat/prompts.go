package chat

import (
	"fmt"
	"strings"

	"github.com/fabfab/docbot/llm"
)

const systemPrompt = "Use the following pieces of context to answer the user's question. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer."

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
%s
Follow Up Input: %s
Standalone question:`

// condenseMessages asks the model to turn a follow-up into a standalone question.
func condenseMessages(question string, history []Turn) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(condenseTemplate, renderHistory(history), question)},
	}
}

func renderHistory(history []Turn) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("Human: ")
		sb.WriteString(turn.Question)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.Answer)
		sb.WriteString("\n")
	}
	return sb.String()
}

// answerMessages lays out the system prompt, prior turns and the final question.
func answerMessages(question, contextBlock string, history []Turn) []llm.Message {
	messages := make([]llm.Message, 0, 2*len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: formatUserPrompt(question, contextBlock)})
	return messages
}

func formatUserPrompt(question, contextBlock string) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	if strings.TrimSpace(contextBlock) == "" {
		sb.WriteString("(no matching documents)\n")
	} else {
		sb.WriteString(contextBlock)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func buildContextPrompt(sources []Source) string {
	var sb strings.Builder
	for idx := range sources {
		source := &sources[idx]
		sb.WriteString(fmt.Sprintf("Source %d: %s (%s)\n", idx+1, source.Title, source.Path))
		if len(source.Insight.Folders) > 0 {
			sb.WriteString("Folders: " + strings.Join(source.Insight.Folders, ", ") + "\n")
		}
		if len(source.Insight.RelatedDocuments) > 0 {
			sb.WriteString("Related documents:\n")
			for _, related := range source.Insight.RelatedDocuments {
				sb.WriteString(fmt.Sprintf("- %s (%s)\n", related.Title, related.Path))
			}
		}
		sb.WriteString(source.Snippet)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
