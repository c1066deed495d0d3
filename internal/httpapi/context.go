package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is canceled on shutdown so in-flight work stops with the
// process. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context canceled when either a or b is done.
// The cancel func must be called once the handler ends to release the goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
		case <-b.Done():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

// canceled reports whether the client went away or the server is stopping.
func canceled(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}
