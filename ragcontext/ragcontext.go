// Package ragcontext assembles deterministic RAG context packets from a
// hybrid search result: an optional expansion item, pre-computed
// surrogate frames, and ranked snippets, all packed under a token
// budget measured by an external token-counting collaborator.
package ragcontext

import (
	"unicode/utf8"

	"github.com/waxdb/wax/search"
	"github.com/waxdb/wax/storage"
	"github.com/waxdb/wax/waxerr"
)

// Mode selects the packing strategy.
type Mode int

const (
	ModeFast Mode = iota
	ModeDenseCached
)

// ItemKind labels a packed context item.
type ItemKind string

const (
	ItemExpansion ItemKind = "expansion"
	ItemSurrogate ItemKind = "surrogate"
	ItemSnippet   ItemKind = "snippet"
)

// TokenCounter is the external collaborator that measures text. The
// core depends only on this narrow capability, never on a concrete
// tokenizer or BPE cache.
type TokenCounter interface {
	Count(text string) (uint32, error)
}

// Config bounds one context-packing invocation.
type Config struct {
	Mode Mode

	ExpansionMaxBytes int
	MaxSnippets       int
	MaxSurrogates     int
	SnippetMaxBytes   int

	MaxContextTokens   uint32
	ExpansionMaxTokens uint32
	SurrogateMaxTokens uint32
	SnippetMaxTokens   uint32
}

// Item is one piece of packed context.
type Item struct {
	Kind           ItemKind
	FrameID        uint64
	Text           string
	TokenCount     uint32
	SourceFrameID  uint64
	HasSourceFrame bool
}

// Context is Build's deterministic output: identical inputs (query,
// embedding, config, committed container) must produce an identical
// Context.
type Context struct {
	Items       []Item
	TotalTokens uint32
}

// Build walks the given search Response and packs it: it assumes the
// caller already ran the hybrid search (search.Run) against a committed
// container — Build itself has no notion of a query, it only sequences
// and budgets the frames the search already ranked.
func Build(catalog *storage.FrameCatalog, resp *search.Response, counter TokenCounter, cfg Config) (*Context, error) {
	if len(resp.Results) == 0 {
		return &Context{Items: []Item{}, TotalTokens: 0}, nil
	}

	var expansion *Item
	usedFrames := make(map[uint64]bool)

	top := resp.Results[0]
	if raw, err := catalog.FrameContent(top.FrameID); err == nil {
		if cfg.ExpansionMaxBytes <= 0 || len(raw) <= cfg.ExpansionMaxBytes {
			if utf8.Valid(raw) {
				text := string(raw)
				tokens, err := counter.Count(text)
				if err != nil {
					return nil, waxerr.New(waxerr.Provider, "rag_context_token_count", err)
				}
				if cfg.ExpansionMaxTokens == 0 || tokens <= cfg.ExpansionMaxTokens {
					expansion = &Item{Kind: ItemExpansion, FrameID: top.FrameID, Text: text, TokenCount: tokens}
					usedFrames[top.FrameID] = true
				}
			}
		}
	}

	// dense_cached adds pre-computed surrogate frames; the source frame
	// of each kept surrogate is excluded from snippet selection below.
	var surrogates []Item
	if cfg.Mode == ModeDenseCached {
		for _, r := range resp.Results {
			if len(surrogates) >= cfg.MaxSurrogates {
				break
			}
			fm, err := catalog.FrameMetaFor(r.FrameID)
			if err != nil || fm.Role != storage.RoleSurrogate {
				continue
			}
			sourceIDStr, ok := fm.Metadata["source_frame_id"]
			if !ok {
				continue
			}
			sourceID, ok := parseFrameID(sourceIDStr)
			if !ok {
				continue
			}
			raw, err := catalog.FrameContent(r.FrameID)
			if err != nil || !utf8.Valid(raw) {
				continue
			}
			text := string(raw)
			tokens, err := counter.Count(text)
			if err != nil {
				return nil, waxerr.New(waxerr.Provider, "rag_context_token_count", err)
			}
			if cfg.SurrogateMaxTokens != 0 && tokens > cfg.SurrogateMaxTokens {
				continue
			}
			surrogates = append(surrogates, Item{
				Kind: ItemSurrogate, FrameID: r.FrameID, Text: text, TokenCount: tokens,
				SourceFrameID: sourceID, HasSourceFrame: true,
			})
			usedFrames[sourceID] = true
		}
	}

	var snippets []Item
	for _, r := range resp.Results {
		if len(snippets) >= cfg.MaxSnippets {
			break
		}
		if usedFrames[r.FrameID] {
			continue
		}
		raw, err := catalog.FrameContent(r.FrameID)
		if err != nil || !utf8.Valid(raw) {
			continue
		}
		if cfg.SnippetMaxBytes > 0 && len(raw) > cfg.SnippetMaxBytes {
			raw = raw[:cfg.SnippetMaxBytes]
		}
		text := string(raw)
		tokens, err := counter.Count(text)
		if err != nil {
			return nil, waxerr.New(waxerr.Provider, "rag_context_token_count", err)
		}
		if cfg.SnippetMaxTokens != 0 && tokens > cfg.SnippetMaxTokens {
			continue
		}
		snippets = append(snippets, Item{Kind: ItemSnippet, FrameID: r.FrameID, Text: text, TokenCount: tokens})
	}

	// Packing order: expansion, then surrogates, then snippets.
	packed := make([]Item, 0, 1+len(surrogates)+len(snippets))
	if expansion != nil {
		packed = append(packed, *expansion)
	}
	packed = append(packed, surrogates...)
	packed = append(packed, snippets...)

	// Per-kind caps are already applied above; only the total token
	// budget applies here, dropping from the tail.
	kept := make([]Item, 0, len(packed))
	var total uint32
	for _, item := range packed {
		if cfg.MaxContextTokens != 0 && total+item.TokenCount > cfg.MaxContextTokens {
			break
		}
		kept = append(kept, item)
		total += item.TokenCount
	}

	return &Context{Items: kept, TotalTokens: total}, nil
}

func parseFrameID(s string) (uint64, bool) {
	var id uint64
	if len(s) == 0 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + uint64(r-'0')
	}
	return id, true
}
