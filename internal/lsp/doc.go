// Package lsp coordinates requests across several language backends attached
// to the same document.
//
// Backends (language servers reached over JSON-RPC, or in-process
// implementations of Connection) are attached to a Registry together with
// the capabilities they advertise. An Executor picks the backends connected
// to a document whose capabilities satisfy its filters, sends a request to
// each of them concurrently and combines the answers:
//
//   - ComputeFirst resolves with the first present answer
//   - CollectAll concatenates every answer in registry order
//   - ComputeAny resolves true when any backend answers true
//
// A backend that fails, panics, times out or detaches is left out of the
// combined result and reported to the log and the optional failure handler.
// The combined future itself only fails on cancellation.
//
// # Quick Start
//
//	reg := lsp.NewRegistry()
//	srv := lsp.NewServer(lsp.ServerConfig{Name: "gopls", Command: "gopls"}, logger)
//	if err := srv.Start(ctx, nil); err != nil {
//	    return err
//	}
//	docs := lsp.NewDocumentManager(reg)
//	if _, err := lsp.AttachServer(reg, srv); err != nil {
//	    return err
//	}
//	uri, _ := docs.OpenDocument(ctx, "main.go", content)
//
//	ex := lsp.NewExecutor(reg, uri, lsp.WithRequestTimeout(2*time.Second))
//	items, err := lsp.Completion(ctx, ex, lsp.Position{Line: 10, Character: 5}).Await(ctx)
//
// # Semantic Tokens
//
// DecodeSemanticTokens turns the relative token stream returned by
// FetchSemanticTokens into StyleRanges using an OffsetMapper (PositionConverter)
// and a StyleResolver (style.Theme).
//
// # Ranking
//
// Ranker orders completion proposals by match category, filter length,
// score and sort text.
package lsp
