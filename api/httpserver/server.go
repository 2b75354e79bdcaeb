// Package httpserver exposes the engine's command surface over HTTP.
package httpserver

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"paperfx/domain/book"
	"paperfx/service"
)

type Server struct {
	app    *fiber.App
	engine *service.Engine
	log    zerolog.Logger
}

func New(engine *service.Engine, log zerolog.Logger) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
		}),
		engine: engine,
		log:    log.With().Str("component", "http").Logger(),
	}

	s.app.Use(s.requestLogger)

	s.app.Post("/orders", s.placeOrder)
	s.app.Delete("/orders/:id", s.cancelOrder)
	s.app.Post("/accounts/:id/deposits", s.deposit)
	s.app.Get("/book/:symbol", s.bookSnapshot)
	s.app.Get("/valuation/:account", s.valuation)
	s.app.Get("/health", s.health)

	return s
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

type placeOrderBody struct {
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
}

func (s *Server) placeOrder(c *fiber.Ctx) error {
	var body placeOrderBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "malformed body")
	}

	side, ok := parseSide(body.Side)
	if !ok {
		return badRequest(c, "side must be BUY or SELL")
	}
	typ, ok := parseType(body.Type)
	if !ok {
		return badRequest(c, "type must be LIMIT or MARKET")
	}

	ack, err := s.engine.PlaceOrder(service.PlaceOrderRequest{
		AccountID: body.AccountID,
		Symbol:    body.Symbol,
		Side:      side,
		Type:      typ,
		Price:     body.Price,
		Qty:       body.Qty,
	})
	if err != nil {
		return rejection(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":   ack.OrderID,
		"status":     ack.Status.String(),
		"filled_qty": ack.FilledQty,
		"remaining":  ack.Remaining,
		"trades":     tradesJSON(ack.Trades),
	})
}

func (s *Server) cancelOrder(c *fiber.Ctx) error {
	orderID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "order id must be numeric")
	}
	accountID := c.Query("account")
	if accountID == "" {
		return badRequest(c, "account query parameter required")
	}

	if err := s.engine.CancelOrder(accountID, orderID); err != nil {
		return rejection(c, err)
	}
	return c.JSON(fiber.Map{"order_id": orderID, "status": book.Cancelled.String()})
}

type depositBody struct {
	Amount int64 `json:"amount"`
}

func (s *Server) deposit(c *fiber.Ctx) error {
	var body depositBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "malformed body")
	}

	balance, err := s.engine.Deposit(c.Params("id"), body.Amount)
	if err != nil {
		return rejection(c, err)
	}
	return c.JSON(fiber.Map{"account_id": c.Params("id"), "balance": balance})
}

func (s *Server) bookSnapshot(c *fiber.Ctx) error {
	snap, err := s.engine.GetSnapshot(c.Params("symbol"))
	if err != nil {
		return rejection(c, err)
	}
	return c.JSON(fiber.Map{
		"symbol":   snap.Symbol,
		"best_bid": snap.BestBid,
		"best_ask": snap.BestAsk,
		"bids":     snap.Bids,
		"asks":     snap.Asks,
		"at":       snap.At,
	})
}

func (s *Server) valuation(c *fiber.Ctx) error {
	rep, err := s.engine.GetValuation(c.Params("account"))
	if err != nil {
		return rejection(c, err)
	}
	return c.JSON(rep)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func parseSide(s string) (book.Side, bool) {
	switch strings.ToUpper(s) {
	case "BUY":
		return book.Buy, true
	case "SELL":
		return book.Sell, true
	}
	return 0, false
}

func parseType(s string) (book.OrderType, bool) {
	switch strings.ToUpper(s) {
	case "LIMIT":
		return book.Limit, true
	case "MARKET":
		return book.Market, true
	}
	return 0, false
}

func tradesJSON(trades []book.Trade) []fiber.Map {
	out := make([]fiber.Map, len(trades))
	for i, t := range trades {
		out[i] = fiber.Map{
			"trade_id": t.ID,
			"price":    t.Price,
			"qty":      t.Qty,
		}
	}
	return out
}

func badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "BAD_REQUEST",
		"detail": detail,
	})
}

// rejection maps reason codes onto HTTP statuses. Anything without a
// reason is an internal error.
func rejection(c *fiber.Ctx, err error) error {
	reason := book.ReasonOf(err)
	status := fiber.StatusInternalServerError
	switch reason {
	case book.ReasonInvalidInstrument, book.ReasonInvalidQuantity, book.ReasonInvalidPrice:
		status = fiber.StatusBadRequest
	case book.ReasonInsufficientFunds:
		status = fiber.StatusUnprocessableEntity
	case book.ReasonNoLiquidity, book.ReasonStaleQuote:
		status = fiber.StatusConflict
	case book.ReasonNotFound:
		status = fiber.StatusNotFound
	case book.ReasonForbidden:
		status = fiber.StatusForbidden
	case book.ReasonNoOp:
		status = fiber.StatusOK
	case book.ReasonServiceUnavailable:
		status = fiber.StatusServiceUnavailable
	}
	if reason == "" {
		return c.Status(status).JSON(fiber.Map{"error": "INTERNAL"})
	}
	return c.Status(status).JSON(fiber.Map{"error": string(reason), "detail": err.Error()})
}
