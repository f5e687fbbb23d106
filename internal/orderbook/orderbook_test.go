package orderbook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/google/uuid"
)

const instrument = "SBER"

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Publish(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) count(t event.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func limit(account string, d model.Direction, price, qty int64) *model.Order {
	return &model.Order{
		ID:           uuid.New(),
		InstrumentID: instrument,
		AccountID:    account,
		Direction:    d,
		Type:         model.OrderTypeLimit,
		Price:        price,
		Quantity:     qty,
		Status:       model.StatusNew,
		CreatedAt:    time.Now(),
		Origin:       model.OriginAdminPanel,
	}
}

func newTestManager() (*Manager, *captureSink) {
	sink := &captureSink{}
	return NewManager(instrument, sink, nil), sink
}

// assertConsistent 每档总量等于档内剩余量之和，且无空档
func assertConsistent(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range []*bookSide{m.book.bids, m.book.asks} {
		if len(s.prices) != len(s.levels) {
			t.Fatalf("price index has %d entries, levels %d", len(s.prices), len(s.levels))
		}
		for price, lvl := range s.levels {
			if len(lvl.ids) == 0 {
				t.Fatalf("empty level %d left in book", price)
			}
			var sum int64
			for _, id := range lvl.ids {
				e, ok := m.book.orders[id]
				if !ok {
					t.Fatalf("level %d references unknown order %s", price, id)
				}
				if e.order.Remaining() <= 0 {
					t.Fatalf("level %d holds order without remaining quantity", price)
				}
				sum += e.order.Remaining()
			}
			if sum != lvl.total {
				t.Fatalf("level %d total %d != sum %d", price, lvl.total, sum)
			}
		}
	}
}

func TestInsertPrice_MiddleInsert(t *testing.T) {
	prices := []int64{}
	prices = insertPrice(prices, 100, false)
	prices = insertPrice(prices, 50, false)
	prices = insertPrice(prices, 150, false)

	expected := []int64{50, 100, 150}
	for i, p := range expected {
		if prices[i] != p {
			t.Errorf("asc[%d]: expected %d, got %d", i, p, prices[i])
		}
	}

	prices = []int64{}
	prices = insertPrice(prices, 100, true)
	prices = insertPrice(prices, 50, true)
	prices = insertPrice(prices, 150, true)

	expected = []int64{150, 100, 50}
	for i, p := range expected {
		if prices[i] != p {
			t.Errorf("desc[%d]: expected %d, got %d", i, p, prices[i])
		}
	}
}

func TestRemovePrice(t *testing.T) {
	prices := removePrice([]int64{50, 100, 150, 200}, 100, false)
	if len(prices) != 3 || prices[1] != 150 {
		t.Fatalf("unexpected asc removal %v", prices)
	}
	prices = removePrice([]int64{200, 150, 100}, 150, true)
	if len(prices) != 2 || prices[0] != 200 || prices[1] != 100 {
		t.Fatalf("unexpected desc removal %v", prices)
	}
	prices = removePrice([]int64{1, 2}, 7, false)
	if len(prices) != 2 {
		t.Fatalf("expected missing price to be a no-op, got %v", prices)
	}
}

func TestBestPrices(t *testing.T) {
	m, _ := newTestManager()
	if _, ok := m.BestBid(); ok {
		t.Fatal("expected no bid in empty book")
	}

	for _, o := range []*model.Order{
		limit("mm", model.DirectionBuy, 98, 1),
		limit("mm", model.DirectionBuy, 99, 1),
		limit("mm", model.DirectionSell, 102, 1),
		limit("mm", model.DirectionSell, 101, 1),
	} {
		if err := m.AddOrder(o); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if p, ok := m.BestBid(); !ok || p != 99 {
		t.Fatalf("expected best bid 99, got %d", p)
	}
	if p, ok := m.BestAsk(); !ok || p != 101 {
		t.Fatalf("expected best ask 101, got %d", p)
	}
	assertConsistent(t, m)
}

func TestAddDuplicateLeavesBookUnchanged(t *testing.T) {
	m, sink := newTestManager()
	o := limit("mm", model.DirectionSell, 100, 10)
	if err := m.AddOrder(o); err != nil {
		t.Fatalf("add: %v", err)
	}
	dup := *o
	dup.Quantity = 99
	if err := m.AddOrder(&dup); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}

	snap := m.Snapshot(0)
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 10 {
		t.Fatalf("expected untouched level, got %+v", snap.Asks)
	}
	if sink.count(event.TypeBookChanged) != 1 {
		t.Fatalf("expected one book change, got %d", sink.count(event.TypeBookChanged))
	}
}

func TestAddRejectsEmptyAndForeignOrders(t *testing.T) {
	m, _ := newTestManager()
	o := limit("mm", model.DirectionBuy, 100, 5)
	o.FilledQuantity = 5
	if err := m.AddOrder(o); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}
	other := limit("mm", model.DirectionBuy, 100, 5)
	other.InstrumentID = "GAZP"
	if err := m.AddOrder(other); !errors.Is(err, ErrWrongBook) {
		t.Fatalf("expected ErrWrongBook, got %v", err)
	}
}

func TestAddStoresCopy(t *testing.T) {
	m, _ := newTestManager()
	o := limit("mm", model.DirectionBuy, 100, 5)
	_ = m.AddOrder(o)
	o.Quantity = 1000

	got, ok := m.GetOrder(o.ID)
	if !ok || got.Quantity != 5 {
		t.Fatalf("expected book copy to keep quantity 5, got %+v", got)
	}
}

func TestRemoveOrder(t *testing.T) {
	m, sink := newTestManager()
	a := limit("mm", model.DirectionBuy, 100, 5)
	b := limit("mm", model.DirectionBuy, 100, 7)
	_ = m.AddOrder(a)
	_ = m.AddOrder(b)

	if !m.RemoveOrder(a.ID) {
		t.Fatal("expected removal")
	}
	if m.RemoveOrder(a.ID) {
		t.Fatal("expected second removal to report false")
	}
	before := sink.count(event.TypeBookChanged)
	if m.RemoveOrder(uuid.New()) {
		t.Fatal("expected unknown id to report false")
	}
	if sink.count(event.TypeBookChanged) != before {
		t.Fatal("expected no notification for unknown id")
	}

	snap := m.Snapshot(0)
	if len(snap.Bids) != 1 || snap.Bids[0].Quantity != 7 {
		t.Fatalf("unexpected bids %+v", snap.Bids)
	}

	m.RemoveOrder(b.ID)
	if _, ok := m.BestBid(); ok {
		t.Fatal("expected empty level to be removed")
	}
	if len(m.OrdersForAccount("mm")) != 0 {
		t.Fatal("expected account index to be empty")
	}
	assertConsistent(t, m)
}

func TestCancelOwnership(t *testing.T) {
	m, sink := newTestManager()
	o := limit("acc-1", model.DirectionBuy, 100, 5)
	_ = m.AddOrder(o)

	if res, _ := m.CancelOrder(o.ID, "acc-2"); res != CancelDenied {
		t.Fatalf("expected denied, got %s", res)
	}
	if _, ok := m.GetOrder(o.ID); !ok {
		t.Fatal("denied cancel must leave the order resting")
	}

	res, cancelled := m.CancelOrder(o.ID, "acc-1")
	if res != CancelOK || cancelled.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled order, got %s/%s", res, cancelled.Status)
	}
	if sink.count(event.TypeOrderChanged) != 1 {
		t.Fatalf("expected order state event, got %d", sink.count(event.TypeOrderChanged))
	}

	if res, _ := m.CancelOrder(o.ID, "acc-1"); res != CancelNotFound {
		t.Fatalf("expected not found, got %s", res)
	}
}

func TestForceCancel(t *testing.T) {
	m, _ := newTestManager()
	o := limit("acc-1", model.DirectionSell, 100, 5)
	_ = m.AddOrder(o)

	got, ok := m.ForceCancel(o.ID)
	if !ok || got.Status != model.StatusCancelled {
		t.Fatalf("expected forced cancel, got %v %+v", ok, got)
	}
	if _, ok := m.ForceCancel(o.ID); ok {
		t.Fatal("expected second forced cancel to fail")
	}
}

func TestConcurrentCancelSingleWinner(t *testing.T) {
	m, _ := newTestManager()
	o := limit("acc-1", model.DirectionBuy, 100, 5)
	_ = m.AddOrder(o)

	var wg sync.WaitGroup
	results := make(chan CancelResult, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := m.CancelOrder(o.ID, "acc-1")
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for r := range results {
		switch r {
		case CancelOK:
			ok++
		case CancelNotFound:
		default:
			t.Fatalf("unexpected result %s", r)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful cancel, got %d", ok)
	}
}

func TestSnapshotDepthAndIndependence(t *testing.T) {
	m, _ := newTestManager()
	for p := int64(95); p <= 99; p++ {
		_ = m.AddOrder(limit("mm", model.DirectionBuy, p, 10))
	}
	api := limit("me", model.DirectionBuy, 99, 4)
	api.Origin = model.OriginAPI
	_ = m.AddOrder(api)

	snap := m.Snapshot(2)
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 99 || snap.Bids[1].Price != 98 {
		t.Fatalf("unexpected depth-limited bids %+v", snap.Bids)
	}
	if snap.Bids[0].Quantity != 14 || snap.Bids[0].APIQuantity != 4 {
		t.Fatalf("unexpected top level %+v", snap.Bids[0])
	}
	if len(snap.Bids[0].Orders) != 2 || snap.Bids[0].Orders[1].ID != api.ID {
		t.Fatalf("expected arrival order in level, got %+v", snap.Bids[0].Orders)
	}

	m.Clear()
	if len(snap.Bids) != 2 || snap.Bids[0].Orders[0].Quantity != 10 {
		t.Fatal("snapshot must not observe later book changes")
	}
	if len(m.Snapshot(0).Bids) != 0 {
		t.Fatal("expected empty book after clear")
	}
}

func TestBookFillMaintainsLevel(t *testing.T) {
	m, _ := newTestManager()
	a := limit("mm", model.DirectionSell, 100, 5)
	b := limit("mm", model.DirectionSell, 100, 3)
	_ = m.AddOrder(a)
	_ = m.AddOrder(b)

	m.Match(func(book *Book) bool {
		if n, removed := book.Fill(a.ID, 2); n != 2 || removed {
			t.Fatalf("expected partial fill, got %d/%v", n, removed)
		}
		if got := book.LevelTotal(model.DirectionSell, 100); got != 6 {
			t.Fatalf("expected level total 6, got %d", got)
		}
		if n, removed := book.Fill(b.ID, 10); n != 3 || !removed {
			t.Fatalf("expected clamped full fill, got %d/%v", n, removed)
		}
		if n, _ := book.Fill(uuid.New(), 1); n != 0 {
			t.Fatal("expected unknown order fill to be ignored")
		}
		return true
	})
	assertConsistent(t, m)

	got, _ := m.GetOrder(a.ID)
	if got.Status != model.StatusPartiallyFilled || got.Remaining() != 3 {
		t.Fatalf("unexpected resting order %+v", got)
	}
	if _, ok := m.GetOrder(b.ID); ok {
		t.Fatal("expected filled order to leave the book")
	}
}

func TestAllOrdersArrivalOrder(t *testing.T) {
	m, _ := newTestManager()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		o := limit("mm", model.DirectionBuy, int64(100-i), 1)
		ids = append(ids, o.ID)
		_ = m.AddOrder(o)
	}
	all := m.AllOrders()
	for i, o := range all {
		if o.ID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], o.ID)
		}
	}
}

func TestTotals(t *testing.T) {
	m, _ := newTestManager()
	_ = m.AddOrder(limit("mm", model.DirectionBuy, 99, 3))
	_ = m.AddOrder(limit("mm", model.DirectionBuy, 98, 4))
	_ = m.AddOrder(limit("mm", model.DirectionSell, 101, 5))

	bl, bq, al, aq := m.Totals()
	if bl != 2 || bq != 7 || al != 1 || aq != 5 {
		t.Fatalf("unexpected totals %d/%d/%d/%d", bl, bq, al, aq)
	}
}
