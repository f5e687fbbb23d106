package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/internal/service"
	"github.com/exchange/emulator/pkg/decimal"
	commonerrors "github.com/exchange/emulator/pkg/errors"
	"github.com/exchange/emulator/pkg/response"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// SubmitOrderBody 下单请求体，价格为十进制字符串
type SubmitOrderBody struct {
	OrderID      string `json:"orderId,omitempty"`
	InstrumentID string `json:"instrumentId,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	Direction    string `json:"direction"`
	OrderType    string `json:"orderType"`
	Price        string `json:"price,omitempty"`
	Quantity     int64  `json:"quantity"`
}

// OrderResultView 下单响应
type OrderResultView struct {
	Order          event.OrderView   `json:"order"`
	Trades         []event.TradeView `json:"trades"`
	ExecutedValue  string            `json:"executedValue"`
	RequestedValue string            `json:"requestedValue"`
}

type QuotesView struct {
	InstrumentID string  `json:"instrumentId"`
	Bid          *string `json:"bid"`
	Ask          *string `json:"ask"`
}

type PositionView struct {
	InstrumentID string `json:"instrumentId"`
	Quantity     int64  `json:"quantity"`
	AveragePrice string `json:"averagePrice"`
	CurrentPrice string `json:"currentPrice"`
}

type AccountView struct {
	AccountID string         `json:"accountId"`
	Balance   string         `json:"balance"`
	Currency  string         `json:"currency"`
	Positions []PositionView `json:"positions"`
}

type PortfolioView struct {
	AccountID string `json:"accountId"`
	Value     string `json:"value"`
	Currency  string `json:"currency"`
}

type MaxLotsView struct {
	Direction model.Direction `json:"direction"`
	MaxLots   int64           `json:"maxLots"`
	Currency  string          `json:"currency"`
}

type InstrumentView struct {
	InstrumentID      string `json:"instrumentId"`
	Ticker            string `json:"ticker"`
	FIGI              string `json:"figi,omitempty"`
	Name              string `json:"name"`
	ClassCode         string `json:"classCode"`
	Lot               int64  `json:"lot"`
	Currency          string `json:"currency"`
	MinPriceIncrement string `json:"minPriceIncrement"`
	APITradeAvailable bool   `json:"apiTradeAvailable"`
}

type TradingStatusView struct {
	InstrumentID         string `json:"instrumentId"`
	TradingStatus        string `json:"tradingStatus"`
	LimitOrderAvailable  bool   `json:"limitOrderAvailableFlag"`
	MarketOrderAvailable bool   `json:"marketOrderAvailableFlag"`
	APITradeAvailable    bool   `json:"apiTradeAvailableFlag"`
}

func (s *Server) codec() event.Codec {
	return event.Codec{PriceScale: s.x.PriceScale()}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, model.OriginAPI)
}

func (s *Server) handleAdminSubmit(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, model.OriginAdminPanel)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, origin model.Origin) {
	var body SubmitOrderBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		response.WriteErrorCode(w, r, commonerrors.CodeInvalidRequest, "invalid json body")
		return
	}

	req, err := s.toRequest(body, origin)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	res, err := s.x.SubmitOrder(r.Context(), req)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	c := s.codec()
	response.WriteJSON(w, http.StatusOK, OrderResultView{
		Order:          c.Order(res.Order),
		Trades:         c.Trades(res.Trades),
		ExecutedValue:  decimal.String(res.ExecutedValue),
		RequestedValue: decimal.String(res.RequestedValue),
	})
}

func (s *Server) toRequest(body SubmitOrderBody, origin model.Origin) (service.SubmitOrderRequest, error) {
	req := service.SubmitOrderRequest{
		InstrumentID: strings.TrimSpace(body.InstrumentID),
		AccountID:    strings.TrimSpace(body.AccountID),
		Quantity:     body.Quantity,
		Origin:       origin,
	}
	// 受管账户只能以自身身份下单
	if origin == model.OriginAPI {
		req.AccountID = s.x.ManagedAccountID()
	}
	if body.OrderID != "" {
		id, err := uuid.Parse(body.OrderID)
		if err != nil {
			return req, commonerrors.New(commonerrors.CodeInvalidParam, "orderId must be a uuid")
		}
		req.OrderID = id
	}

	var err error
	if req.Direction, err = model.ParseDirection(body.Direction); err != nil {
		return req, commonerrors.NewWithDefault(commonerrors.CodeInvalidSide, "")
	}
	if req.Type, err = model.ParseOrderType(body.OrderType); err != nil {
		return req, commonerrors.NewWithDefault(commonerrors.CodeInvalidOrderType, "")
	}
	if req.Type == model.OrderTypeLimit || body.Price != "" {
		ticks, err := decimal.ParseTicks(body.Price, s.x.PriceScale())
		if err != nil && req.Type == model.OrderTypeLimit {
			return req, commonerrors.Newf(commonerrors.CodeInvalidPrice, "price %q is not on the %d-decimal grid", body.Price, s.x.PriceScale())
		}
		req.Price = ticks
	}
	return req, nil
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathOrderID(w, r)
	if !ok {
		return
	}
	o, err := s.x.CancelOrder(r.Context(), id, s.x.ManagedAccountID())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, s.codec().Order(o))
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathOrderID(w, r)
	if !ok {
		return
	}
	o, err := s.x.ForceCancel(r.Context(), id)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, s.codec().Order(o))
}

func (s *Server) pathOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		response.WriteErrorCode(w, r, commonerrors.CodeInvalidParam, "order id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, s.codec().Orders(s.x.Orders(s.x.ManagedAccountID())))
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("accountId"))
	response.WriteJSON(w, http.StatusOK, s.codec().Orders(s.x.Orders(accountID)))
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	depth := s.cfg.BookDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.WriteErrorCode(w, r, commonerrors.CodeInvalidParam, "depth must be a non-negative integer")
			return
		}
		depth = n
	}
	c := s.codec()
	c.LevelOrders = r.URL.Query().Get("orders") == "true"
	response.WriteJSON(w, http.StatusOK, c.Book(s.x.OrderBook(depth)))
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	q := s.x.BestPrices()
	view := QuotesView{InstrumentID: s.x.InstrumentID()}
	if q.HasBid {
		v := decimal.FormatTicks(q.Bid, s.x.PriceScale())
		view.Bid = &v
	}
	if q.HasAsk {
		v := decimal.FormatTicks(q.Ask, s.x.PriceScale())
		view.Ask = &v
	}
	response.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, accountView(s.x.Account(), s.x.Currency()))
}

func accountView(acc model.Account, currency string) AccountView {
	view := AccountView{
		AccountID: acc.ID,
		Balance:   decimal.String(&acc.Balance),
		Currency:  currency,
		Positions: make([]PositionView, 0, len(acc.Positions)),
	}
	for _, p := range acc.Positions {
		view.Positions = append(view.Positions, PositionView{
			InstrumentID: p.InstrumentID,
			Quantity:     p.Quantity,
			AveragePrice: decimal.String(&p.AveragePrice),
			CurrentPrice: decimal.String(&p.CurrentPrice),
		})
	}
	sort.Slice(view.Positions, func(i, j int) bool {
		return view.Positions[i].InstrumentID < view.Positions[j].InstrumentID
	})
	return view
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ref, err := refParam(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, PortfolioView{
		AccountID: s.x.ManagedAccountID(),
		Value:     decimal.String(s.x.Portfolio(ref)),
		Currency:  s.x.Currency(),
	})
}

func (s *Server) handleMaxLots(w http.ResponseWriter, r *http.Request) {
	dir := model.DirectionBuy
	if raw := r.URL.Query().Get("direction"); raw != "" {
		d, err := model.ParseDirection(raw)
		if err != nil {
			response.WriteErrorCode(w, r, commonerrors.CodeInvalidSide, "")
			return
		}
		dir = d
	}
	ref, err := refParam(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	lots, err := s.x.MaxLots(dir == model.DirectionBuy, ref)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, MaxLotsView{
		Direction: dir,
		MaxLots:   lots,
		Currency:  s.x.Currency(),
	})
}

// refParam 缺省或为 0 都视为未指定
func refParam(r *http.Request) (*apd.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("ref"))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.Parse(raw)
	if err != nil || d.Sign() < 0 {
		return nil, commonerrors.New(commonerrors.CodeInvalidPrice, "ref must be a non-negative decimal")
	}
	if d.Sign() == 0 {
		return nil, nil
	}
	return d, nil
}

func (s *Server) handleFindInstrument(w http.ResponseWriter, r *http.Request) {
	found := s.x.FindInstrument(r.URL.Query().Get("query"))
	tick := decimal.String(decimal.FromTicks(1, s.x.PriceScale()))
	views := make([]InstrumentView, 0, len(found))
	for _, in := range found {
		views = append(views, InstrumentView{
			InstrumentID:      in.ID,
			Ticker:            in.Ticker,
			FIGI:              in.FIGI,
			Name:              in.Name,
			ClassCode:         in.ClassCode,
			Lot:               in.Lot,
			Currency:          in.Currency,
			MinPriceIncrement: tick,
			APITradeAvailable: in.APITradeAvailable,
		})
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"instruments": views})
}

func (s *Server) handleTradingStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.x.TradingStatus(r.PathValue("id"))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, TradingStatusView{
		InstrumentID:         st.InstrumentID,
		TradingStatus:        st.Status,
		LimitOrderAvailable:  st.LimitOrderAvailable,
		MarketOrderAvailable: st.MarketOrderAvailable,
		APITradeAvailable:    st.APITradeAvailable,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.x.Reset(r.Context()); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
