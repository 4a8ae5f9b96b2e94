// cmd/demo/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/Corphon/ScriptVoice/internal/tts/providers/genai"
	_ "github.com/Corphon/ScriptVoice/internal/tts/providers/google"
	_ "github.com/Corphon/ScriptVoice/internal/tts/providers/tone"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		stop()
		os.Exit(1)
	}
}
