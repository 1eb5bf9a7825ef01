package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/store"
	"github.com/SaganGromov/polybot/pkg/types"
)

// mockState is the on-disk shape of the mock exchange's balance and
// positions, persisted to <data_dir>/mock_state.json.
type mockState struct {
	Balance   decimal.Decimal            `json:"balance"`
	Positions map[string]types.Position `json:"positions"`
}

// Mock is an in-memory ExchangeProvider for dry-run and tests. BUY fills
// maintain a weighted-average entry price; SELL fills reduce size and
// credit proceeds to the balance. State is persisted so a restarted
// dry-run process resumes where it left off.
type Mock struct {
	mu       sync.Mutex
	file     *store.JSONFile[mockState]
	state    mockState
	book     types.MarketDepth
	metadata types.MarketMetadata
	logger   *slog.Logger
}

// NewMock creates a mock exchange seeded with startBalance, persisting to
// statePath. Returned order books and metadata are fixed dummy values
// unless overridden with SetOrderBook/SetMarketMetadata (used by tests).
func NewMock(statePath string, startBalance decimal.Decimal, logger *slog.Logger) (*Mock, error) {
	f, err := store.Open[mockState](statePath)
	if err != nil {
		return nil, err
	}

	state, ok := f.Load()
	if !ok {
		state = mockState{Balance: startBalance, Positions: map[string]types.Position{}}
	}
	if state.Positions == nil {
		state.Positions = map[string]types.Position{}
	}

	return &Mock{
		file:  f,
		state: state,
		book: types.MarketDepth{
			Bids:         []types.MarketDepthLevel{{Price: decimal.NewFromFloat(0.49), Size: decimal.NewFromInt(1000)}},
			Asks:         []types.MarketDepthLevel{{Price: decimal.NewFromFloat(0.51), Size: decimal.NewFromInt(1000)}},
			MinOrderSize: decimal.NewFromInt(5),
		},
		metadata: types.MarketMetadata{Title: "Mock Market", Question: "Mock question?"},
		logger:   logger.With("component", "exchange.mock"),
	}, nil
}

func (m *Mock) Start(ctx context.Context) error { return nil }
func (m *Mock) Stop() error                     { return nil }

// SetOrderBook overrides the book returned for every token (test hook).
func (m *Mock) SetOrderBook(book types.MarketDepth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = book
}

// SetMarketMetadata overrides the metadata returned for every token (test hook).
func (m *Mock) SetMarketMetadata(md types.MarketMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata = md
}

func (m *Mock) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Balance, nil
}

func (m *Mock) GetPositions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Position
	for _, p := range m.state.Positions {
		if p.Value().LessThan(minValue) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PlaceOrder fills immediately against the mock's fixed book. BUY debits
// balance and grows the position at a weighted-average entry price; SELL
// credits balance and shrinks the position, erroring if the position is
// smaller than the requested size. BUY orders are rounded through
// RoundBuyOrder first, exactly as the live Client does, so the mock
// exercises the same §4.1 rounding contract dry-run trades submit against.
func (m *Mock) PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if side == types.SideBuy {
		size, priceLimit = RoundBuyOrder(size, priceLimit)
	}

	order := types.Order{TokenID: tokenID, Side: side, Size: size, PriceLimit: priceLimit}
	cost := size.Mul(priceLimit)

	switch side {
	case types.SideBuy:
		if cost.GreaterThan(m.state.Balance) {
			order.Status = types.OrderRejected
			return order, types.NewInsufficientFundsError(fmt.Errorf("cost %s exceeds balance %s", cost, m.state.Balance))
		}

		pos := m.state.Positions[tokenID]
		totalValue := pos.Size.Mul(pos.AvgEntryPrice).Add(cost)
		newSize := pos.Size.Add(size)
		newAvg := decimal.Zero
		if !newSize.IsZero() {
			newAvg = totalValue.Div(newSize)
		}
		m.state.Positions[tokenID] = types.Position{
			TokenID:       tokenID,
			Size:          newSize,
			AvgEntryPrice: newAvg,
			CurrentPrice:  priceLimit,
		}
		m.state.Balance = m.state.Balance.Sub(cost)

	case types.SideSell:
		pos, ok := m.state.Positions[tokenID]
		if !ok || pos.Size.LessThan(size) {
			order.Status = types.OrderRejected
			return order, types.NewOrderError(fmt.Errorf("insufficient position in %s to sell %s", tokenID, size))
		}
		pos.Size = pos.Size.Sub(size)
		pos.CurrentPrice = priceLimit
		if pos.Size.IsZero() {
			delete(m.state.Positions, tokenID)
		} else {
			m.state.Positions[tokenID] = pos
		}
		m.state.Balance = m.state.Balance.Add(cost)
	}

	order.Status = types.OrderFilled
	order.OrderID = "mock-" + tokenID

	if err := m.file.Save(m.state); err != nil {
		m.logger.Warn("mock state persist failed", "error", err)
	}
	return order, nil
}

func (m *Mock) GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book, nil
}

func (m *Mock) GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metadata, nil
}
