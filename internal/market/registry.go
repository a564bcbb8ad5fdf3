package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

// GammaMarket is the JSON shape returned by the Gamma API.
type GammaMarket struct {
	ID                    string  `json:"id"`
	Question              string  `json:"question"`
	ConditionID           string  `json:"conditionId"`
	Slug                  string  `json:"slug"`
	Active                bool    `json:"active"`
	Closed                bool    `json:"closed"`
	AcceptingOrders       bool    `json:"acceptingOrders"`
	EnableOrderBook       bool    `json:"enableOrderBook"`
	EndDate               string  `json:"endDate"`
	Liquidity             string  `json:"liquidity"`
	Volume24hr            float64 `json:"volume24hr"`
	ClobTokenIds          string  `json:"clobTokenIds"`
	NegRisk               bool    `json:"negRisk"`
	LastTradePrice        float64 `json:"lastTradePrice"`
	OrderPriceMinTickSize float64 `json:"orderPriceMinTickSize"`
	Category              string  `json:"category"`
	GameStartTime         string  `json:"gameStartTime"`
}

// RegistryUpdate reports what changed in one poll cycle. The engine drains
// it for logging only; the router's subscription maintainer diffs
// Subscriptions() against the WS feed instead.
type RegistryUpdate struct {
	Added     []types.Market
	Resolved  []string // condition IDs that closed/resolved since the last scan
	ScannedAt time.Time
}

// Registry discovers tradeable markets from the Gamma API and keeps a local
// cache of active, unresolved markets plus the token⇄condition mapping the
// router needs to enrich incoming WS events (which only carry a token id).
//
// Unlike a quoting bot's scanner, which would rank markets by opportunity,
// this registry only tracks membership: is this market still tradeable.
type Registry struct {
	httpClient *resty.Client
	cfg        config.ScannerConfig
	logger     *slog.Logger
	gdb        *gorm.DB

	mu         sync.RWMutex
	markets    map[string]types.Market // by condition ID
	tokenIndex map[string]string       // token ID -> condition ID

	updatesCh chan RegistryUpdate
}

// NewRegistry creates a market registry polling the Gamma API. gdb backs the
// condition-ID -> durable int64 Market.ID assignment every downstream
// component (positions, ticks, strategy state) keys off of.
func NewRegistry(cfg config.Config, gdb *gorm.DB, logger *slog.Logger) *Registry {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Registry{
		httpClient: client,
		cfg:        cfg.Scanner,
		logger:     logger.With("component", "market_registry"),
		gdb:        gdb,
		markets:    make(map[string]types.Market),
		tokenIndex: make(map[string]string),
		updatesCh:  make(chan RegistryUpdate, 1),
	}
}

// Updates returns the channel each poll cycle's RegistryUpdate is sent on.
func (r *Registry) Updates() <-chan RegistryUpdate {
	return r.updatesCh
}

// Run polls on cfg.PollInterval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.refresh(ctx)

	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Registry) refresh(ctx context.Context) {
	raw, err := r.fetchMarkets(ctx)
	if err != nil {
		r.logger.Error("market registry refresh failed", "error", err)
		return
	}

	filtered := r.filterMarkets(raw)

	r.mu.Lock()
	seen := make(map[string]bool, len(filtered))
	var added []types.Market
	for _, gm := range filtered {
		mkt := convertToMarket(gm)
		seen[mkt.ConditionID] = true

		if existing, existed := r.markets[mkt.ConditionID]; existed {
			mkt.ID = existing.ID
		} else {
			id, err := r.resolveMarketID(mkt)
			if err != nil {
				r.logger.Error("resolve market id failed", "condition_id", mkt.ConditionID, "error", err)
				continue
			}
			mkt.ID = id
			added = append(added, mkt)
		}

		r.markets[mkt.ConditionID] = mkt
		if mkt.YesTokenID != "" {
			r.tokenIndex[mkt.YesTokenID] = mkt.ConditionID
		}
		if mkt.NoTokenID != "" {
			r.tokenIndex[mkt.NoTokenID] = mkt.ConditionID
		}
	}

	var resolved []string
	for conditionID := range r.markets {
		if !seen[conditionID] {
			resolved = append(resolved, conditionID)
			delete(r.markets, conditionID)
		}
	}
	r.mu.Unlock()

	r.logger.Info("market registry refreshed",
		"total", len(raw), "active", len(filtered), "added", len(added), "resolved", len(resolved))

	update := RegistryUpdate{Added: added, Resolved: resolved, ScannedAt: time.Now()}
	select {
	case r.updatesCh <- update:
	default:
		select {
		case <-r.updatesCh:
		default:
		}
		r.updatesCh <- update
	}
}

func (r *Registry) fetchMarkets(ctx context.Context) ([]GammaMarket, error) {
	var allMarkets []GammaMarket
	offset := 0
	limit := 100

	for {
		var page []GammaMarket
		resp, err := r.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		allMarkets = append(allMarkets, page...)

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return allMarkets, nil
}

// filterMarkets eliminates markets the engine cannot or should not trade:
// inactive, closed, not accepting orders, no order book, excluded slugs,
// insufficient liquidity/volume, end date outside the configured window,
// or missing token IDs.
func (r *Registry) filterMarkets(markets []GammaMarket) []GammaMarket {
	excluded := make(map[string]bool)
	for _, slug := range r.cfg.ExcludeSlugs {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug != "" {
			excluded[slug] = true
		}
	}

	now := time.Now()
	maxEnd := now.AddDate(0, 0, r.cfg.MaxEndDateDays)

	var result []GammaMarket
	for _, m := range markets {
		if !m.Active || m.Closed || !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}
		if excluded[strings.ToLower(m.Slug)] {
			continue
		}

		liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)
		if liquidity < r.cfg.MinLiquidity {
			continue
		}
		if m.Volume24hr < r.cfg.MinVolume24h {
			continue
		}

		if m.EndDate != "" {
			endDate, err := time.Parse(time.RFC3339, m.EndDate)
			if err != nil {
				continue
			}
			if endDate.Before(now) || endDate.After(maxEnd) {
				continue
			}
		}

		if m.ClobTokenIds == "" {
			continue
		}

		result = append(result, m)
	}

	return result
}

// Get returns the cached Market for a condition ID.
func (r *Registry) Get(conditionID string) (types.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[conditionID]
	return m, ok
}

// ConditionForToken resolves a token (asset) ID to its condition ID, used to
// enrich WS events which only carry the token ID.
func (r *Registry) ConditionForToken(tokenID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.tokenIndex[tokenID]
	return c, ok
}

// MarketForToken resolves a token ID straight through to its Market.
func (r *Registry) MarketForToken(tokenID string) (types.Market, bool) {
	conditionID, ok := r.ConditionForToken(tokenID)
	if !ok {
		return types.Market{}, false
	}
	return r.Get(conditionID)
}

// All returns a snapshot of every currently tracked market.
func (r *Registry) All() []types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// Subscriptions returns every token ID the WS feed should be subscribed to.
func (r *Registry) Subscriptions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.markets)*2)
	for _, m := range r.markets {
		if m.YesTokenID != "" {
			out = append(out, m.YesTokenID)
		}
		if m.NoTokenID != "" {
			out = append(out, m.NoTokenID)
		}
	}
	return out
}

// resolveMarketID returns the durable int64 id for mkt's condition ID,
// creating the backing markets row the first time this condition ID is seen.
// The Gamma API has no stable integer id of its own, so the row's
// auto-incrementing primary key is what every other table keys positions,
// snapshots, and strategy state against.
func (r *Registry) resolveMarketID(mkt types.Market) (int64, error) {
	row := db.MarketRow{ConditionID: mkt.ConditionID}
	err := r.gdb.Where("condition_id = ?", mkt.ConditionID).
		Attrs(db.MarketRow{
			YesTokenID: mkt.YesTokenID,
			NoTokenID:  mkt.NoTokenID,
			Question:   mkt.Question,
			Category:   mkt.Category,
			MarketType: mkt.MarketType,
			Format:     mkt.Format,
			EndTime:    mkt.EndTime,
			Liquidity:  mkt.Liquidity,
			LastPrice:  mkt.LastPrice,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return 0, fmt.Errorf("resolve market id for %s: %w", mkt.ConditionID, err)
	}

	if row.Liquidity.Cmp(mkt.Liquidity) != 0 || row.LastPrice.Cmp(mkt.LastPrice) != 0 || row.Resolved != mkt.Resolved {
		row.Liquidity = mkt.Liquidity
		row.LastPrice = mkt.LastPrice
		row.Resolved = mkt.Resolved
		if err := r.gdb.Model(&db.MarketRow{}).Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"liquidity":  row.Liquidity,
				"last_price": row.LastPrice,
				"resolved":   row.Resolved,
			}).Error; err != nil {
			return 0, fmt.Errorf("update market row %d: %w", row.ID, err)
		}
	}

	return row.ID, nil
}

func convertToMarket(gm GammaMarket) types.Market {
	liquidity, _ := decimal.NewFromString(gm.Liquidity)
	lastPrice := decimal.NewFromFloat(gm.LastTradePrice)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		_ = json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs)
	}
	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken, noToken = tokenIDs[0], tokenIDs[1]
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)
	gameStart, _ := time.Parse(time.RFC3339, gm.GameStartTime)

	return types.Market{
		ConditionID: gm.ConditionID,
		YesTokenID:  yesToken,
		NoTokenID:   noToken,
		Question:    gm.Question,
		Category:    gm.Category,
		MarketType:  deriveMarketType(gm.Question + " " + gm.Slug),
		Format:      parseFormat(gm.Question + " " + gm.Slug),
		EndTime:     endDate,
		GameStart:   gameStart,
		Resolved:    gm.Closed,
		Liquidity:   liquidity,
		LastPrice:   lastPrice,
	}
}

// deriveMarketType classifies a market as a series-winner moneyline or a
// per-map child market. Per-map winner markets embed the map number in the
// title ("Team A vs Team B - Map 2 Winner"); everything else is the match
// moneyline.
func deriveMarketType(text string) string {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "map 1") || strings.Contains(lower, "map 2") ||
		strings.Contains(lower, "map 3") || strings.Contains(lower, "map 4") ||
		strings.Contains(lower, "map 5") || strings.Contains(lower, "map-") {
		return "child_moneyline"
	}
	return "moneyline"
}

// parseFormat extracts a best-of-N series format from a market's question or
// slug. The Gamma API carries no structured format field, but esports
// markets consistently embed it in the title ("Team A vs Team B (BO3)").
func parseFormat(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bo5") || strings.Contains(lower, "best of 5"):
		return "BO5"
	case strings.Contains(lower, "bo3") || strings.Contains(lower, "best of 3"):
		return "BO3"
	case strings.Contains(lower, "bo1") || strings.Contains(lower, "best of 1"):
		return "BO1"
	default:
		return ""
	}
}
