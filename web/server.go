package web

import (
	"synapse/web/api"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// Options configures the local API server.
type Options struct {
	Address   string
	Verbose   bool
	ReadyChan chan struct{} // signalled once listening; used by tests
	// Tokens enables bearer auth. Nil serves every request as UserID, which
	// is only sane on a loopback address.
	Tokens *Tokens
	UserID string
}

// NewServer creates and configures the RWeb server
func NewServer(opts Options, a *api.API) *rweb.Server {
	s := rweb.NewServer(rweb.ServerOptions{
		Address:   opts.Address,
		Verbose:   opts.Verbose,
		ReadyChan: opts.ReadyChan,
	})

	s.Use(rweb.RequestInfo)
	s.Use(CorsMiddleware)
	s.Use(AuthMiddleware(opts.Tokens, opts.UserID))
	s.Use(SecurityHeadersMiddleware)
	s.Use(LoggingMiddleware)

	setupStaticFiles(s)
	setupRoutes(s, a)
	return s
}

// Run starts the server
func Run(s *rweb.Server, address string) error {
	logger.Info("Synapse local API starting", "address", address)
	return s.Run()
}
