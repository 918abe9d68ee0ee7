// Copyright 2025 HireSignal LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIOptions configure the OpenAI-compatible completer. BaseURL may point
// at any endpoint speaking the chat-completions protocol.
type OpenAIOptions struct {
	BaseURL string
	Token   string
	Model   string
	// Temperature defaults to 0.2, low enough for schema-stable output.
	Temperature float64
}

// NewOpenAICompleter returns a Completer backed by an OpenAI-compatible
// chat-completions endpoint.
func NewOpenAICompleter(opts OpenAIOptions) (Completer, error) {
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	llmOpts := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithHTTPClient(cleanhttp.DefaultPooledClient()),
	}
	if opts.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(opts.BaseURL))
	}
	if opts.Token != "" {
		llmOpts = append(llmOpts, openai.WithToken(opts.Token))
	}
	llm, err := openai.New(llmOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "constructing openai client")
	}
	return CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		resp, err := llm.GenerateContent(ctx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, user),
		},
			llms.WithTemperature(opts.Temperature),
			llms.WithJSONMode(),
		)
		if err != nil {
			return "", errors.Wrap(err, "chat completion")
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}
		return resp.Choices[0].Content, nil
	}), nil
}
