// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama talks to a local Ollama inference server.
//
// # Key Types
//
//   - Client: HTTP client for /api/tags and non-streaming /api/chat
//   - ClientError: typed failure (timeout, connection, HTTP status, bad body)
//   - Gateway: cached model catalog plus a Query that never fails
//   - QueryResult: reply, thinking text, elapsed time and the tagged error
//
// # Usage
//
//	gw := ollama.NewGateway(ollama.NewClientWithConfig(&ollama.ClientConfig{
//	    BaseURL: "http://localhost:11434",
//	    Timeout: 600 * time.Second,
//	}))
//	models := gw.ListModels(ctx)
//	res := gw.Query(ctx, "2+2?", history, "STEMBot-4B")
//	fmt.Println(res.Reply, res.Thinking, res.ElapsedSeconds())
//
// # Thinking Blocks
//
// Reasoning models wrap their internal monologue in <think>...</think>.
// SplitThinking separates that segment from the visible answer; text on
// both sides of the block is kept.
package ollama
