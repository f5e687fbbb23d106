// bookctl 通过 HTTP 查询模拟器并以表格输出
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/exchange/emulator/internal/api"
	"github.com/exchange/emulator/internal/event"
	commonerrors "github.com/exchange/emulator/pkg/errors"
	"github.com/olekukonko/tablewriter"
)

var exitFunc = os.Exit

type cliConfig struct {
	Addr    string
	Token   string
	Depth   int
	Account string
	Timeout time.Duration
	Command string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitFunc(runCLI(ctx, os.Args[1:], os.Stdout, os.Stderr, http.DefaultClient))
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("bookctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg cliConfig
	fs.StringVar(&cfg.Addr, "addr", envOr("EMULATOR_ADDR", "http://localhost:8090"), "emulator base url")
	fs.StringVar(&cfg.Token, "token", os.Getenv("EMULATOR_TOKEN"), "bearer token (admin token for orders)")
	fs.IntVar(&cfg.Depth, "depth", 10, "order book depth")
	fs.StringVar(&cfg.Account, "account", "", "filter orders by account (admin)")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 1 {
		return cfg, errors.New("usage: bookctl [flags] book|orders|account")
	}
	cfg.Command = fs.Arg(0)
	switch cfg.Command {
	case "book", "orders", "account":
	default:
		return cfg, fmt.Errorf("unknown command %q", cfg.Command)
	}
	if cfg.Depth < 0 {
		return cfg, errors.New("depth must be >= 0")
	}
	return cfg, nil
}

func runCLI(ctx context.Context, args []string, out, errOut io.Writer, client *http.Client) int {
	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	c := &apiClient{base: strings.TrimRight(cfg.Addr, "/"), token: cfg.Token, http: client}

	switch cfg.Command {
	case "book":
		var book event.BookView
		if err := c.get(ctx, "/api/orderbook", url.Values{"depth": {strconv.Itoa(cfg.Depth)}}, &book); err != nil {
			fmt.Fprintln(errOut, err.Error())
			return 1
		}
		printBook(out, book)
	case "orders":
		q := url.Values{}
		if cfg.Account != "" {
			q.Set("accountId", cfg.Account)
		}
		var orders []event.OrderView
		if err := c.get(ctx, "/api/admin/orders", q, &orders); err != nil {
			fmt.Fprintln(errOut, err.Error())
			return 1
		}
		printOrders(out, orders)
	case "account":
		var acc api.AccountView
		if err := c.get(ctx, "/api/account", nil, &acc); err != nil {
			fmt.Fprintln(errOut, err.Error())
			return 1
		}
		printAccount(out, acc)
	}
	return 0
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, q url.Values, dst any) error {
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr commonerrors.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("GET %s: %s %s", path, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printBook(out io.Writer, book event.BookView) {
	w := tablewriter.NewWriter(out)
	w.SetHeader([]string{"bid qty", "bid api", "bid", "ask", "ask api", "ask qty"})
	rows := len(book.Bids)
	if len(book.Asks) > rows {
		rows = len(book.Asks)
	}
	for i := 0; i < rows; i++ {
		row := make([]string, 6)
		if i < len(book.Bids) {
			l := book.Bids[i]
			row[0], row[1], row[2] = strconv.FormatInt(l.Quantity, 10), strconv.FormatInt(l.APIQuantity, 10), l.Price
		}
		if i < len(book.Asks) {
			l := book.Asks[i]
			row[3], row[4], row[5] = l.Price, strconv.FormatInt(l.APIQuantity, 10), strconv.FormatInt(l.Quantity, 10)
		}
		w.Append(row)
	}
	w.SetCaption(true, book.InstrumentID)
	w.Render()
}

func printOrders(out io.Writer, orders []event.OrderView) {
	w := tablewriter.NewWriter(out)
	w.SetHeader([]string{"id", "account", "side", "type", "price", "qty", "filled", "status", "origin"})
	for _, o := range orders {
		w.Append([]string{
			o.OrderID, o.AccountID, o.Direction.String(), o.OrderType.String(), o.Price,
			strconv.FormatInt(o.Quantity, 10), strconv.FormatInt(o.FilledQuantity, 10),
			o.Status.String(), o.Origin.String(),
		})
	}
	w.SetCaption(true, fmt.Sprintf("%d orders", len(orders)))
	w.Render()
}

func printAccount(out io.Writer, acc api.AccountView) {
	w := tablewriter.NewWriter(out)
	w.SetHeader([]string{"instrument", "quantity", "avg price", "current price"})
	for _, p := range acc.Positions {
		w.Append([]string{p.InstrumentID, strconv.FormatInt(p.Quantity, 10), p.AveragePrice, p.CurrentPrice})
	}
	w.SetCaption(true, fmt.Sprintf("%s balance %s", acc.AccountID, acc.Balance))
	w.Render()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
