// Package generator implements streaming answer generation grounded
// in assembled passages, with the LLM client treated as an external
// collaborator wired in at the retrieval flow's endpoint.
//
// The per-document context block assembly builds one "__Document uri__"
// block per result set and joins them for the prompt; streaming mechanics
// use the chat completions client's NewStreaming call.
package generator

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"seemantic/internal/config"
	"seemantic/internal/observability"
	"seemantic/internal/passage"
)

// PassageSet is one document's assembled passages, handed to the generator
// as one context block.
type PassageSet struct {
	URI      string
	Passages []passage.Passage
}

// Delta is one incremental fragment of the streamed answer.
type Delta struct {
	Answer string
}

// Generator streams chat completions grounded in retrieved passages.
type Generator struct {
	sdk   sdk.Client
	model string
}

// New constructs a Generator against the configured chat model.
func New(cfg config.OpenAIConfig) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(observability.NewHTTPClient(nil)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Generator{sdk: sdk.NewClient(opts...), model: cfg.ChatModel}
}

// documentContext renders one document's passages as a single
// "__Document <uri>__: <chunks>" block.
func documentContext(ps PassageSet) string {
	var texts []string
	for _, p := range ps.Passages {
		texts = append(texts, p.Text)
	}
	return fmt.Sprintf("__Document %s__:\n\n%s", ps.URI, strings.Join(texts, ">>> \n"))
}

// allResultsContext joins every document's context block into the final
// context section of the prompt.
func allResultsContext(sets []PassageSet) string {
	blocks := make([]string, 0, len(sets))
	for _, s := range sets {
		blocks = append(blocks, documentContext(s))
	}
	return strings.Join(blocks, "\n\n")
}

// buildPrompt assembles the retrieval-augmented prompt template.
func buildPrompt(question string, sets []PassageSet) string {
	return fmt.Sprintf(`Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer:`, allResultsContext(sets), question)
}

// GenerateStream streams the answer to question grounded in sets. The
// returned channel is closed when the stream ends or ctx is canceled; a
// non-nil error is reported via the returned error channel's single send.
func (g *Generator) GenerateStream(ctx context.Context, question string, sets []PassageSet) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		params := sdk.ChatCompletionNewParams{
			Model: sdk.ChatModel(g.model),
			Messages: []sdk.ChatCompletionMessageParamUnion{
				sdk.UserMessage(buildPrompt(question, sets)),
			},
		}
		stream := g.sdk.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case deltas <- Delta{Answer: content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case errs <- err:
			default:
			}
		}
	}()

	return deltas, errs
}
