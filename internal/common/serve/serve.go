package serve

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/eventloader/internal/common/logctx"
)

const shutdownTimeout = 5 * time.Second

// ListenAndServe runs server until ctx is cancelled, then shuts it down gracefully.
// It returns nil when the server stopped because of ctx.
func ListenAndServe(ctx *logctx.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		ctx.Log.Infof("Starting http server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WithStack(err)
	case <-ctx.Done():
	}

	ctx.Log.Infof("Stopping http server listening on %s", server.Addr)
	shutdownCtx, cancel := logctx.WithTimeout(logctx.Detach(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
