package parse

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/orthopilot/claimpilot/internal/model"
	"github.com/orthopilot/claimpilot/internal/store"
)

// Adapter is the get-or-parse cache over the external parser. A document
// is parsed at most once: when parsed_text is already set it is returned
// verbatim with no network call. Cold parses are throttled with a fixed
// delay between calls to stay under the upstream quota.
type Adapter struct {
	parser  Parser
	docs    store.DocumentStore
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewAdapter creates the caching adapter. parseDelay is the minimum
// spacing between cold parse calls; zero disables the throttle.
func NewAdapter(parser Parser, docs store.DocumentStore, parseDelay time.Duration, log zerolog.Logger) *Adapter {
	limit := rate.Inf
	if parseDelay > 0 {
		limit = rate.Every(parseDelay)
	}
	return &Adapter{
		parser:  parser,
		docs:    docs,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// GetOrParse returns the document's text, parsing and durably caching it
// on first use. Parse failures propagate to the caller; the orchestrator
// decides disposition.
func (a *Adapter) GetOrParse(ctx context.Context, doc *model.Document) (string, error) {
	if doc.ParsedText != nil {
		return *doc.ParsedText, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	a.log.Info().
		Str("document_id", doc.ID.String()).
		Str("purpose", string(doc.Purpose)).
		Str("file", doc.FileName).
		Msg("parsing document")

	text, err := a.parser.Parse(ctx, doc.FilePath)
	if err != nil {
		return "", err
	}

	if err := a.docs.SetParsedText(ctx, doc.ID, text); err != nil {
		return "", err
	}
	doc.ParsedText = &text
	return text, nil
}
