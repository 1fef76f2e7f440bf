package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Sternrassler/tradecache/pkg/trading"
)

func (s *Server) handleTradingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Trading.Stats())
}

// handleSetMarketData stores one quote, or a batch when the body is an array.
// A {symbol} path variable overrides the symbol of a single quote.
func (s *Server) handleSetMarketData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, badRequest("read body: "+err.Error()))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var quotes []trading.Quote
		if err := json.Unmarshal(trimmed, &quotes); err != nil {
			s.writeError(w, r, badRequest("invalid JSON body: "+err.Error()))
			return
		}
		n, err := s.deps.Trading.BatchSetQuotes(ctx, quotes)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"set": n})
		return
	}

	var q trading.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		s.writeError(w, r, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	if symbol := mux.Vars(r)["symbol"]; symbol != "" {
		q.Symbol = symbol
	}
	ok, err := s.deps.Trading.SetQuote(ctx, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"set": ok})
}

func (s *Server) handleGetMarketData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	q, found, err := s.deps.Trading.GetQuote(ctx, mux.Vars(r)["symbol"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "market data not found"})
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleBatchMarketData reads ?symbols=A,B or, without the parameter, every
// tracked symbol.
func (s *Server) handleBatchMarketData(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				symbols = append(symbols, sym)
			}
		}
	} else {
		symbols = s.deps.Trading.Symbols()
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	quotes, err := s.deps.Trading.BatchGetQuotes(ctx, symbols)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	missing := []string{}
	for _, sym := range symbols {
		if _, ok := quotes[sym]; !ok {
			missing = append(missing, sym)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": quotes, "missing": missing})
}

func (s *Server) handleSetPortfolio(w http.ResponseWriter, r *http.Request) {
	var p trading.Portfolio
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	if userID := mux.Vars(r)["userId"]; userID != "" {
		p.UserID = userID
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	ok, err := s.deps.Trading.SetPortfolio(ctx, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"set": ok})
}

// handleGetPortfolio takes the user from the path or ?userId=.
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID == "" {
		s.writeError(w, r, badRequest("userId is required"))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	p, found, err := s.deps.Trading.GetPortfolio(ctx, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "portfolio not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleInvalidateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	n := s.deps.Trading.InvalidateSessionData(ctx, mux.Vars(r)["sessionId"])
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	n := s.deps.Trading.InvalidateUserData(ctx, mux.Vars(r)["userId"])
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
