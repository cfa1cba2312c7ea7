package dashboard

import (
	"net/http"
	"time"

	"support-bot/priority"
	"support-bot/ticket"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"time":   s.clock.Now().UTC(),
	})
}

func (s *Server) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.Summary())
}

func (s *Server) getRealtime(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.Realtime())
}

func (s *Server) getStaff(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats.StaffReport())
}

func (s *Server) getPriorityMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, priority.CalculateMetrics(s.tickets.Samples(), s.clock.Now()))
}

func (s *Server) getTickets(c echo.Context) error {
	f := ticket.Filter{UserID: c.QueryParam("user")}
	switch c.QueryParam("status") {
	case "", "all":
		f.Status = ticket.StatusAll
	case "open":
		f.Status = ticket.StatusOpen
	case "closed":
		f.Status = ticket.StatusClosed
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be open, closed or all"})
	}
	list := s.tickets.List(f)
	return c.JSON(http.StatusOK, echo.Map{"count": len(list), "tickets": list})
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// live streams lifecycle events as JSON text frames until the client goes
// away.
func (s *Server) live(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	evs, cancel := s.feed.Subscribe(64)
	defer cancel()

	// Reader goroutine only notices the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case e, ok := <-evs:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				s.log.Debug("live client dropped", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}
