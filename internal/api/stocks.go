package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/ferme/internal/aggregate"
	"github.com/erazemk/ferme/internal/export"
	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/store"
)

// StocksHandler handles stock endpoints. Callers without all-farms access
// only see and edit their own farm's stock.
type StocksHandler struct {
	DB     *sql.DB
	events *events
}

type createStockRequest struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
	Unit     string `json:"unit"`
	FarmID   string `json:"secteur_id"`
	Notes    string `json:"notes"`
}

type updateStockRequest struct {
	Item     string `json:"item" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
	Notes    string `json:"notes"`
}

type aggregateResponse struct {
	Rows       []aggregate.Row `json:"rows"`
	Page       int             `json:"page"`
	Pages      int             `json:"pages"`
	TotalItems int             `json:"total_items"`
}

// List handles GET /api/stocks.
func (h *StocksHandler) List(w http.ResponseWriter, r *http.Request) {
	stocks, err := store.ListStocks(r.Context(), h.DB, farmScope(r), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err, "list stocks")
		return
	}
	if stocks == nil {
		stocks = []model.StockItem{}
	}
	jsonResponse(w, http.StatusOK, stocks)
}

// owned loads the stock named by the path and checks the caller's farm.
func (h *StocksHandler) owned(w http.ResponseWriter, r *http.Request) *model.StockItem {
	s, err := store.GetStock(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, err, "get stock")
		return nil
	}
	if s == nil {
		jsonError(w, http.StatusNotFound, "stock not found")
		return nil
	}
	actor := actorFrom(r)
	if !actor.Elevated() && actor.FarmID != s.FarmID {
		jsonError(w, http.StatusForbidden, "stock belongs to another farm")
		return nil
	}
	return s
}

// Get handles GET /api/stocks/{id}.
func (h *StocksHandler) Get(w http.ResponseWriter, r *http.Request) {
	if s := h.owned(w, r); s != nil {
		jsonResponse(w, http.StatusOK, s)
	}
}

// Create handles POST /api/stocks. Quantities merge into an existing record
// for the same item. Elevated callers that name no farm stock the central store.
func (h *StocksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "add stock")
		return
	}

	actor := actorFrom(r)
	farmID := actor.FarmID
	if actor.Elevated() {
		farmID = req.FarmID
		if farmID == "" {
			farmID = model.CentralFarmID
		}
	}

	s, err := store.AddStock(r.Context(), h.DB, farmID, req.Item, req.Unit, req.Quantity, req.Notes)
	if err != nil {
		writeError(w, err, "add stock")
		return
	}

	slog.Info("stock added", "user", actor.Name, "farm", farmID, "item", s.Item, "quantity", req.Quantity)
	h.events.publish(live.CollectionStocks, live.OpUpdate, s.ID, farmID)
	jsonResponse(w, http.StatusCreated, s)
}

// Update handles PUT /api/stocks/{id}.
func (h *StocksHandler) Update(w http.ResponseWriter, r *http.Request) {
	s := h.owned(w, r)
	if s == nil {
		return
	}

	var req updateStockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "update stock")
		return
	}

	if err := store.UpdateStock(r.Context(), h.DB, s.ID, req.Item, req.Quantity, req.Notes); err != nil {
		writeError(w, err, "update stock")
		return
	}

	updated, err := store.GetStock(r.Context(), h.DB, s.ID)
	if err != nil {
		writeError(w, err, "get stock")
		return
	}
	slog.Info("stock updated", "user", actorFrom(r).Name, "farm", s.FarmID, "item", req.Item,
		"from", s.Quantity, "to", req.Quantity)
	h.events.publish(live.CollectionStocks, live.OpUpdate, s.ID, s.FarmID)
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/stocks/{id}.
func (h *StocksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s := h.owned(w, r)
	if s == nil {
		return
	}

	if err := store.DeleteStock(r.Context(), h.DB, s.ID); err != nil {
		writeError(w, err, "delete stock")
		return
	}

	slog.Info("stock deleted", "user", actorFrom(r).Name, "farm", s.FarmID, "item", s.Item)
	h.events.publish(live.CollectionStocks, live.OpDelete, s.ID, s.FarmID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "stock deleted"})
}

// Aggregate handles GET /api/stocks/aggregate?search=&page=&per_page=.
func (h *StocksHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))

	stocks, err := store.ListStocks(r.Context(), h.DB, farmScope(r), "")
	if err != nil {
		writeError(w, err, "aggregate stocks")
		return
	}

	rows := aggregate.Aggregate(stocks, func(id string) string {
		return store.FarmName(r.Context(), h.DB, id)
	}, q.Get("search"))
	pageRows, pages := aggregate.Paginate(rows, page, perPage)
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}

	jsonResponse(w, http.StatusOK, aggregateResponse{
		Rows:       pageRows,
		Page:       page,
		Pages:      pages,
		TotalItems: len(rows),
	})
}

// Export handles GET /api/stocks/export. Elevated callers exporting every
// farm get one sheet per farm.
func (h *StocksHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := farmScope(r)
	perFarm := actorFrom(r).Elevated() && scope == ""

	stocks, err := store.ListStocks(ctx, h.DB, scope, r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, err, "export stocks")
		return
	}
	farms, err := store.ListFarms(ctx, h.DB)
	if err != nil {
		writeError(w, err, "export stocks")
		return
	}
	transfers, err := store.ListTransfers(ctx, h.DB, store.TransferFilter{FarmID: scope})
	if err != nil {
		writeError(w, err, "export stocks")
		return
	}

	sheet, suffix := "", "complet"
	if scope != "" {
		sheet = store.FarmName(ctx, h.DB, scope)
		suffix = sheet
	}

	f, err := export.StockWorkbook(stocks, farms, sheet, perFarm, transfers)
	if err != nil {
		writeError(w, err, "export stocks")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename("inventaire", suffix, time.Now()))
	if err := f.Write(w); err != nil {
		slog.Error("failed to write workbook", "error", err)
	}
}
