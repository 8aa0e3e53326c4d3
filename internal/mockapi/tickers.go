package mockapi

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/0x-ximon/portman/bots/internal/auth"
	"github.com/0x-ximon/portman/bots/internal/models"
)

type tickMessage struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
	Time   time.Time       `json:"time"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) listTickersHandler(c echo.Context) error {
	s.listTickers.Add(1)
	return reply(c, http.StatusOK, "tickers retrieved", s.tickers)
}

func (s *Server) ticker(symbol string) (models.Ticker, bool) {
	for _, t := range s.tickers {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return models.Ticker{}, false
}

// ticksHandler streams prices for the symbol most recently sent by the
// client. Unknown or non-OPEN symbols are ignored.
func (s *Server) ticksHandler(c echo.Context) error {
	key := c.Request().Header.Get(auth.APIKeyHeader)
	if _, ok := s.lookup(key); !ok {
		return replyError(c, http.StatusUnauthorized, "unauthorized", "api key not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()
	s.streams.Add(1)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	symbols := make(chan string, 1)
	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case symbols <- string(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var current *models.Ticker
	for {
		select {
		case <-ctx.Done():
			return nil
		case sym := <-symbols:
			t, ok := s.ticker(sym)
			if !ok || t.Status != models.TickerStatusOpen {
				current = nil
				continue
			}
			current = &t
		case now := <-ticker.C:
			if current == nil {
				continue
			}
			// random walk of at most 0.1% per tick
			step := decimal.NewFromFloat((rnd.Float64() - 0.5) / 500)
			current.Last = current.Last.Add(current.Last.Mul(step)).Round(2)
			data, err := json.Marshal(tickMessage{Symbol: current.Symbol, Last: current.Last, Time: now.UTC()})
			if err != nil {
				return err
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return nil
			}
		}
	}
}
