// Package mockapi is an in-memory stand-in for the Portman API. It serves
// the user, ticker and tick stream endpoints the bots talk to, with the same
// response envelope and API key derivation as the real platform.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/models"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultBcryptCost   = bcrypt.DefaultCost
)

// Options configures a Server.
type Options struct {
	// Secret derives the API key of every registered user.
	Secret string
	// Tickers served by GET /tickers. DefaultTickers is used when nil.
	Tickers []models.Ticker
	// TickInterval is the delay between stream messages.
	TickInterval time.Duration
	BcryptCost   int
	Logger       zerolog.Logger
	// Drop, when it returns true for a request's API key, closes the
	// connection without answering.
	Drop func(apiKey string) bool
}

// Counts reports how many requests each route handled.
type Counts struct {
	GetUser     int64
	CreateUser  int64
	ListTickers int64
	Streams     int64
}

// Server holds users in memory. It is safe for concurrent use.
type Server struct {
	secret   string
	interval time.Duration
	cost     int
	log      zerolog.Logger
	drop     func(string) bool
	e        *echo.Echo

	mu      sync.RWMutex
	byKey   map[string]*models.User
	byEmail map[string]string
	tickers []models.Ticker

	getUser     atomic.Int64
	createUser  atomic.Int64
	listTickers atomic.Int64
	streams     atomic.Int64
}

// DefaultTickers returns two open markets and one closed one.
func DefaultTickers() []models.Ticker {
	return []models.Ticker{
		{ID: 1, Base: "BTC", Quote: "USD", Symbol: "BTCUSD", Ask: decimal.RequireFromString("64010.50"), Bid: decimal.RequireFromString("64000.00"), Last: decimal.RequireFromString("64005.25"), Status: models.TickerStatusOpen},
		{ID: 2, Base: "ETH", Quote: "USD", Symbol: "ETHUSD", Ask: decimal.RequireFromString("3120.40"), Bid: decimal.RequireFromString("3119.80"), Last: decimal.RequireFromString("3120.00"), Status: models.TickerStatusOpen},
		{ID: 3, Base: "SOL", Quote: "USD", Symbol: "SOLUSD", Ask: decimal.RequireFromString("142.10"), Bid: decimal.RequireFromString("141.90"), Last: decimal.RequireFromString("142.00"), Status: models.TickerStatusClosed},
	}
}

func New(opts Options) *Server {
	s := &Server{
		secret:   opts.Secret,
		interval: opts.TickInterval,
		cost:     opts.BcryptCost,
		log:      opts.Logger,
		drop:     opts.Drop,
		byKey:    make(map[string]*models.User),
		byEmail:  make(map[string]string),
		tickers:  opts.Tickers,
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	if s.cost == 0 {
		s.cost = DefaultBcryptCost
	}
	if s.tickers == nil {
		s.tickers = DefaultTickers()
	}
	s.e = s.router()
	return s
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			s.log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(s.dropMiddleware)

	e.GET("/users", s.getUserHandler)
	e.POST("/users", s.createUserHandler)
	e.GET("/tickers", s.listTickersHandler)
	e.GET("/tickers/ticks", s.ticksHandler)
	return e
}

// Handler returns the API as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Counts returns a snapshot of the per-route request counters.
func (s *Server) Counts() Counts {
	return Counts{
		GetUser:     s.getUser.Load(),
		CreateUser:  s.createUser.Load(),
		ListTickers: s.listTickers.Load(),
		Streams:     s.streams.Load(),
	}
}

// Users returns the number of registered users.
func (s *Server) Users() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Seed stores a user registered with params, as POST /users would.
func (s *Server) Seed(params models.CreateUserParams) (models.User, error) {
	return s.register(params)
}

func (s *Server) dropMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.drop == nil || !s.drop(c.Request().Header.Get(auth.APIKeyHeader)) {
			return next(c)
		}
		conn, _, err := c.Response().Hijack()
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// errorHandler renders every error in the API envelope.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	} else {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	}
	_ = c.JSON(code, models.Payload{Message: http.StatusText(code), Error: msg})
}

func reply(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, models.Payload{Message: message, Data: data})
}

func replyError(c echo.Context, status int, message, cause string) error {
	return c.JSON(status, models.Payload{Message: message, Error: cause})
}
