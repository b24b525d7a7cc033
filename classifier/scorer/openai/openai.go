// SPDX-License-Identifier: GPL-3.0-or-later
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/domain"

	"github.com/sashabaranov/go-openai"
)

const (
	Backend     = "openai"
	maxBodySize = 8000
)

const promptFormat = `Analyze the following email and estimate the probability that it is a phishing attempt.
Respond with a JSON object containing:
- probability: number between 0 and 1 (higher means more likely to be phishing)

Email:
From: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

type Loader struct {
	apiKey  string
	model   string
	baseURL string
}

func NewLoader(apiKey, model, baseURL string) *Loader {
	return &Loader{apiKey: apiKey, model: model, baseURL: baseURL}
}

func (l *Loader) Backend() string {
	return Backend
}

func (l *Loader) Load(ctx context.Context) (scorer.Model, string, error) {
	if l.model == "" {
		return nil, "", errors.New("openai model name must not be empty")
	}
	config := openai.DefaultConfig(l.apiKey)
	if l.baseURL != "" {
		config.BaseURL = l.baseURL
	}
	return &Client{client: openai.NewClientWithConfig(config), model: l.model}, l.model, nil
}

type Client struct {
	client *openai.Client
	model  string
}

type analysisResponse struct {
	Probability *float64 `json:"probability"`
}

func (c *Client) Score(ctx context.Context, in domain.ScoreInput) (float64, error) {
	body := scorer.Body(in.TextBody, in.HtmlBody)
	if len(body) > maxBodySize {
		body = body[:maxBodySize] + "\n[... truncated ...]"
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a phishing detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(promptFormat, in.Sender, in.Subject, body),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("could not create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New("empty response from openai")
	}

	return parseProbability(resp.Choices[0].Message.Content)
}

// parseProbability accepts the JSON object alone or embedded in prose.
func parseProbability(content string) (float64, error) {
	result := analysisResponse{}
	err := json.Unmarshal([]byte(content), &result)
	if err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start < 0 || end < start {
			return 0, fmt.Errorf("could not find JSON in response: %w", err)
		}
		err = json.Unmarshal([]byte(content[start:end+1]), &result)
		if err != nil {
			return 0, fmt.Errorf("could not parse response as JSON: %w", err)
		}
	}
	if result.Probability == nil {
		return 0, errors.New("response has no probability")
	}
	return *result.Probability, nil
}
