// Package bedrock implements ports.LanguageModel and ports.Embedder over AWS
// Bedrock's Converse/ConverseStream and InvokeModel APIs, grounded on the
// teacher's internal/agent/providers.BedrockProvider: AWS SDK v2 client
// construction from a region/credentials config, ConverseStream for
// completions, tool-use forcing for structured output, and a retry wrapper
// around throttling/5xx responses.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

// Config holds the Bedrock client settings (§10.2 provider configuration).
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxRetries      int
	RetryDelay      time.Duration
	EmbeddingModel  string
}

// Provider implements ports.LanguageModel and ports.Embedder over a shared
// Bedrock runtime client.
type Provider struct {
	client         *bedrockruntime.Client
	maxRetries     int
	retryDelay     time.Duration
	embeddingModel string
}

// New builds a Provider, loading AWS credentials from the supplied config or
// falling back to the default credential chain (env, IAM role, profile).
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "amazon.titan-embed-text-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &Provider{
		client:         bedrockruntime.NewFromConfig(awsCfg),
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

var (
	_ ports.LanguageModel = (*Provider)(nil)
	_ ports.Embedder      = (*Provider)(nil)
)

// Invoke performs a single non-streaming completion by draining Stream.
func (p *Provider) Invoke(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return ports.CompletionResponse{}, err
	}
	var b strings.Builder
	var usage ports.UsageMetadata
	for chunk := range chunks {
		if chunk.Error != nil {
			return ports.CompletionResponse{}, chunk.Error
		}
		b.WriteString(chunk.Text)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return ports.CompletionResponse{Text: b.String(), Usage: usage}, nil
}

// Stream performs a streaming completion over Bedrock's ConverseStream API.
func (p *Provider) Stream(ctx context.Context, req ports.CompletionRequest) (<-chan ports.StreamChunk, error) {
	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: convertMessages(req.Messages),
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}

	var stream *bedrockruntime.ConverseStreamOutput
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		stream, lastErr = p.client.ConverseStream(ctx, converseReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) || attempt == p.maxRetries {
			return nil, fmt.Errorf("bedrock: converse stream: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		}
	}

	out := make(chan ports.StreamChunk)
	go p.drainStream(ctx, stream, out)
	return out, nil
}

func (p *Provider) drainStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- ports.StreamChunk) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var inputTokens, outputTokens int
	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- ports.StreamChunk{Error: ctx.Err()}
			return
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- ports.StreamChunk{Error: err}
					return
				}
				usage := ports.UsageMetadata{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens}
				out <- ports.StreamChunk{Usage: &usage}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if delta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && delta.Value != "" {
					out <- ports.StreamChunk{Text: delta.Value}
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					inputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					outputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				usage := ports.UsageMetadata{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens}
				out <- ports.StreamChunk{Usage: &usage}
				return
			}
		}
	}
}

// structuredToolName is the single forced tool used to coerce a JSON-schema
// response out of models that only expose tool-use for constrained output.
const structuredToolName = "emit_structured_response"

// InvokeStructured forces the model to call a single synthetic tool whose
// input schema is the caller's schema, then returns that tool call's input
// verbatim as the structured JSON result.
func (p *Provider) InvokeStructured(ctx context.Context, req ports.CompletionRequest, schema json.RawMessage) (json.RawMessage, error) {
	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("bedrock: invalid schema: %w", err)
	}

	converseReq := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: convertMessages(req.Messages),
		ToolConfig: &types.ToolConfiguration{
			ToolChoice: &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(structuredToolName)}},
			Tools: []types.Tool{
				&types.ToolMemberToolSpec{
					Value: types.ToolSpecification{
						Name:        aws.String(structuredToolName),
						Description: aws.String("Emit the structured response matching the required schema."),
						InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
					},
				},
			},
		},
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	var resp *bedrockruntime.ConverseOutput
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, lastErr = p.client.Converse(ctx, converseReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) || attempt == p.maxRetries {
			return nil, fmt.Errorf("bedrock: converse: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		}
	}

	output, ok := resp.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: converse response carried no message")
	}
	for _, block := range output.Value.Content {
		toolUse, ok := block.(*types.ContentBlockMemberToolUse)
		if !ok {
			continue
		}
		var input any
		if err := toolUse.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
			return nil, fmt.Errorf("bedrock: decode tool input: %w", err)
		}
		return json.Marshal(input)
	}
	return nil, errors.New("bedrock: model did not call the structured-response tool")
}

// Embed calls Titan Text Embeddings via InvokeModel (§4.5).
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]any{"inputText": text})
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.embeddingModel),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: invoke embedding model: %w", err)
	}

	var decoded struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return nil, fmt.Errorf("bedrock: decode embedding response: %w", err)
	}
	return decoded.Embedding, nil
}

func convertMessages(messages []ports.CompletionMessage) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return result
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"throttlingexception", "toomanyrequestsexception", "serviceunavailableexception", "timeout", "deadline exceeded", "500", "502", "503", "504"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
