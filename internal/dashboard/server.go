// Package dashboard serves the operator page, the configuration endpoint
// and the push channel.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/state"
)

//go:embed assets
var assetsFS embed.FS

// Controller is the bot lifecycle the dashboard drives.
type Controller interface {
	Start(creds client.Credentials)
	Started() bool
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Controller Controller
	Settings   *state.Settings
	Joined     *state.JoinedSet
	Hub        *Hub
	Port       int
	Out        io.Writer
}

func (o *StartOpts) validate() error {
	if o.Controller == nil {
		return fmt.Errorf("dashboard: controller is required")
	}
	if o.Settings == nil {
		return fmt.Errorf("dashboard: settings is required")
	}
	if o.Joined == nil {
		return fmt.Errorf("dashboard: joined set is required")
	}
	if o.Hub == nil {
		return fmt.Errorf("dashboard: hub is required")
	}
	return nil
}

// NewRouter builds the dashboard's Gin engine.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 3000
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
