package llmservice

import (
	"strings"

	"github.com/nheososweet/60days-rag/internal/models"
)

// ThinkingParser splits a token stream into answer text and reasoning text.
// Reasoning models wrap their chain of thought in <think>...</think>; answer
// tokens are forwarded as they arrive, while reasoning is buffered and
// emitted once, complete, when the closing marker is seen. Markers may be
// split across arbitrary chunk boundaries.
type ThinkingParser struct {
	emitAnswer   func(text string) error
	emitThinking func(text string) error

	buf      strings.Builder
	thinking bool
	sent     bool
}

func NewThinkingParser(emitAnswer, emitThinking func(text string) error) *ThinkingParser {
	return &ThinkingParser{emitAnswer: emitAnswer, emitThinking: emitThinking}
}

// Write consumes one raw chunk from the stream.
func (p *ThinkingParser) Write(chunk string) error {
	p.buf.WriteString(chunk)
	for {
		data := p.buf.String()
		if p.thinking {
			idx := strings.Index(data, models.ThinkEndTag)
			if idx < 0 {
				return nil
			}
			p.thinking = false
			p.buf.Reset()
			p.buf.WriteString(data[idx+len(models.ThinkEndTag):])
			if err := p.flushThinking(data[:idx]); err != nil {
				return err
			}
			continue
		}

		idx := strings.Index(data, models.ThinkStartTag)
		if idx < 0 {
			// Hold back a tail that could still become a marker.
			hold := partialTagSuffix(data, models.ThinkStartTag)
			emit := data[:len(data)-hold]
			p.buf.Reset()
			p.buf.WriteString(data[len(data)-hold:])
			if emit != "" {
				return p.emitAnswer(emit)
			}
			return nil
		}

		p.thinking = true
		p.buf.Reset()
		p.buf.WriteString(data[idx+len(models.ThinkStartTag):])
		if idx > 0 {
			if err := p.emitAnswer(data[:idx]); err != nil {
				return err
			}
		}
	}
}

// Flush drains whatever is left once the stream ends. An unterminated
// reasoning block is still surfaced as reasoning rather than dropped.
func (p *ThinkingParser) Flush() error {
	data := p.buf.String()
	p.buf.Reset()
	if data == "" {
		return nil
	}
	if p.thinking {
		p.thinking = false
		return p.flushThinking(data)
	}
	return p.emitAnswer(data)
}

func (p *ThinkingParser) flushThinking(text string) error {
	text = strings.TrimSpace(text)
	if text == "" || p.sent {
		return nil
	}
	p.sent = true
	return p.emitThinking(text)
}

// partialTagSuffix reports the length of the longest suffix of data that is a
// proper prefix of tag.
func partialTagSuffix(data, tag string) int {
	max := len(tag) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(data, tag[:n]) {
			return n
		}
	}
	return 0
}
