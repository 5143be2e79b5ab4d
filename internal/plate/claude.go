package plate

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const (
	DefaultModel = "claude-3-5-haiku-latest"

	systemPrompt = "You read vehicle license plates from traffic camera crops. " +
		"Reply with the plate characters only, without spaces or punctuation. " +
		"If no plate is legible reply with NONE."
	userPrompt = "Read the license plate on this vehicle."

	noneReply = "NONE"
)

type ClaudeConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MinLength int
	MaxLength int
	// MinSize is the smallest crop, in pixels per side, worth sending.
	MinSize image.Point
}

// ClaudeRecognizer sends vehicle crops to the Anthropic Messages API and
// returns the cleaned plate text.
type ClaudeRecognizer struct {
	client anthropic.Client
	cfg    ClaudeConfig
	log    zerolog.Logger
}

func NewClaudeRecognizer(cfg ClaudeConfig, log zerolog.Logger) *ClaudeRecognizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeRecognizer{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		log:    log,
	}
}

// Recognize returns the plate on img, or ErrNoPlate when nothing legible was
// found. Transport errors are returned wrapped.
func (r *ClaudeRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", ErrNoPlate
	}
	size := img.Bounds().Size()
	if size.X <= 0 || size.Y <= 0 || size.X < r.cfg.MinSize.X || size.Y < r.cfg.MinSize.Y {
		return "", ErrNoPlate
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}

	message, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Model),
		MaxTokens: 32,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(buf.Bytes())),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic plate request: %w", err)
	}

	for _, block := range message.Content {
		if block.Type != "text" {
			continue
		}
		text := strings.TrimSpace(block.Text)
		r.log.Debug().
			Str("reply", text).
			Int64("tokens_in", message.Usage.InputTokens).
			Int64("tokens_out", message.Usage.OutputTokens).
			Msg("plate recognition reply")
		if strings.EqualFold(text, noneReply) {
			return "", ErrNoPlate
		}
		if cleaned := Clean(text, r.cfg.MinLength, r.cfg.MaxLength); cleaned != "" {
			return cleaned, nil
		}
		return "", ErrNoPlate
	}
	return "", ErrNoPlate
}
