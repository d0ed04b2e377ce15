package comment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/blogcore/internal/config"
)

// Verdict is the outcome of a spam check. A pass has Spam false and an empty
// Reason.
type Verdict struct {
	Spam       bool
	Confidence float64
	Reason     string
}

var pass = Verdict{}

// TextGenerator produces a completion for a system and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Options supplies the effective AI and comment settings. *config.Resolver
// satisfies it.
type Options interface {
	AI(ctx context.Context) (config.AIOptions, error)
	Comments(ctx context.Context) (config.CommentOptions, error)
}

var _ Options = (*config.Resolver)(nil)

// GeneratorFactory builds a TextGenerator for the current AI settings.
type GeneratorFactory func(config.AIOptions) TextGenerator

// Classifier asks a language model whether a comment is spam. It never fails:
// disabled review, missing settings, transport errors and unreadable replies
// all produce a pass.
type Classifier struct {
	options   Options
	generator GeneratorFactory
	logger    *slog.Logger
}

func NewClassifier(options Options, generator GeneratorFactory, logger *slog.Logger) *Classifier {
	if generator == nil {
		generator = func(ai config.AIOptions) TextGenerator {
			return NewOpenAICompatGenerator(ai.OpenAIEndpoint, ai.OpenAIKey, ai.OpenAIPreferredModel)
		}
	}
	return &Classifier{options: options, generator: generator, logger: logger}
}

// Enabled reports whether new comments should wait for review.
func (c *Classifier) Enabled(ctx context.Context) bool {
	opts, err := c.options.Comments(ctx)
	if err != nil {
		c.logger.Error("loading comment options", slog.String("error", err.Error()))
		return false
	}
	return opts.ReviewEnabled()
}

func (c *Classifier) Check(ctx context.Context, text, author, email string) Verdict {
	opts, err := c.options.Comments(ctx)
	if err != nil {
		c.logger.Error("loading comment options", slog.String("error", err.Error()))
		return pass
	}
	if !opts.ReviewEnabled() {
		return pass
	}

	ai, err := c.options.AI(ctx)
	if err != nil {
		c.logger.Error("loading ai options", slog.String("error", err.Error()))
		return pass
	}
	if !ai.Configured() {
		c.logger.Debug("ai review enabled but no model configured")
		return pass
	}

	gen := c.generator(ai)
	user := fmt.Sprintf("Author: %s\nEmail: %s\nContent: %s", author, email, text)

	if opts.AIReviewType == config.ReviewScore {
		reply, err := gen.GenerateText(ctx, scorePrompt(opts.AIReviewThreshold), user)
		if err != nil {
			c.logger.Error("spam scoring failed", slog.String("error", err.Error()))
			return pass
		}
		return c.parseScore(reply, opts.AIReviewThreshold)
	}

	reply, err := gen.GenerateText(ctx, binaryPrompt, user)
	if err != nil {
		c.logger.Error("spam check failed", slog.String("error", err.Error()))
		return pass
	}
	return c.parseBinary(reply)
}

func (c *Classifier) parseBinary(reply string) Verdict {
	var r struct {
		IsSpam bool   `json:"is_spam"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &r); err != nil {
		c.logger.Warn("unreadable spam check reply", slog.String("reply", reply), slog.String("error", err.Error()))
		return pass
	}
	v := Verdict{Spam: r.IsSpam, Reason: r.Reason}
	if r.IsSpam {
		v.Confidence = 1
	}
	return v
}

func (c *Classifier) parseScore(reply string, threshold int) Verdict {
	var r struct {
		Score  *int   `json:"score"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &r); err != nil || r.Score == nil {
		c.logger.Warn("unreadable spam score reply", slog.String("reply", reply))
		return pass
	}
	score := min(max(*r.Score, 0), 10)
	return Verdict{
		Spam:       score >= threshold,
		Confidence: float64(score) / 10,
		Reason:     fmt.Sprintf("score %d/10: %s", score, r.Reason),
	}
}

const spamTraits = `Spam includes, among other things:
- advertising or marketing
- malicious or phishing links
- meaningless repeated characters or gibberish
- abuse, personal attacks or hate speech
- sexual or violent content
- obviously machine-generated filler`

var binaryPrompt = `You review blog comments for spam.

` + spamTraits + `

Reply with JSON only:
{"is_spam": true or false, "reason": "why"}`

func scorePrompt(threshold int) string {
	return fmt.Sprintf(`You score blog comments for spam from 0 to 10.

0-2 normal, 3-4 slightly suspicious, 5-6 suspicious, 7-8 clear spam traits, 9-10 severe spam.

%s

Reply with JSON only:
{"score": 0-10, "reason": "why"}

Comments scoring %d or more are blocked.`, spamTraits, threshold)
}

// extractJSON pulls the first JSON object out of a model reply. It strips code
// fences, skips surrounding prose and closes an object the model cut off.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case ch == '{' && !inString:
			depth++
		case ch == '}' && !inString:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Truncated: close the open string and braces.
	partial := s[start:]
	if inString {
		partial += `"`
	}
	return partial + strings.Repeat("}", depth)
}
