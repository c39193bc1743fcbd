package deepgram

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

const overflowBackoff = 250 * time.Millisecond

type streamer interface {
	Stream(w io.Writer) error
}

// streamWithRetry pumps microphone audio into w, reopening the stream after
// input overflows until ctx is done.
func streamWithRetry(ctx context.Context, src streamer, w io.Writer, wait func(context.Context, time.Duration), log *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := src.Stream(w)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			log.Warn("microphone input overflow, restarting stream")
			wait(ctx, overflowBackoff)
			continue
		}

		log.Error("microphone stream failed", "error", err)
		return
	}
}

func waitFor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
