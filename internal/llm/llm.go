// Package llm defines the chat-completion boundary used for report synthesis.
package llm

import "context"

type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature float32
}

// ChatClient returns the assistant text for one system+user exchange.
// Errors are *fault.Error values classified as auth, network or parse.
type ChatClient interface {
	Complete(ctx context.Context, req Request) (string, error)
}
