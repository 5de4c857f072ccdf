// Package network - api.go
// InventoryAPI: REST surface over the engine for tools, dashboards and
// clients that do not hold a WebSocket open.
package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/infra/storage"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

// InventoryAPI handles the REST endpoints.
type InventoryAPI struct {
	engine  *engine.Engine
	hub     *Hub
	recap   *storage.Reconstructor
	metrics *metrics.Collector
	logger  *logger.Logger
}

// NewInventoryAPI creates the REST handler. hub and recap may be nil.
func NewInventoryAPI(eng *engine.Engine, hub *Hub, recap *storage.Reconstructor, m *metrics.Collector, log *logger.Logger) *InventoryAPI {
	if log == nil {
		log = logger.NewDiscard()
	}
	if m == nil {
		m = metrics.Get()
	}
	return &InventoryAPI{
		engine:  eng,
		hub:     hub,
		recap:   recap,
		metrics: m,
		logger:  log,
	}
}

// StartSessionRequest is the payload for opening a new dive.
type StartSessionRequest struct {
	PlayerName string `json:"player_name"`
}

// ItemRequest is the payload for collect and drop.
type ItemRequest struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
}

// CraftRequest is the payload for craft.
type CraftRequest struct {
	Recipe string `json:"recipe"`
}

// EquipRequest is the payload for equip.
type EquipRequest struct {
	Slot *int `json:"slot"`
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	Player      string `json:"player"`
	Capacity    int    `json:"capacity"`
	Used        int    `json:"used"`
	Connected   int    `json:"connected"`
	PendingJobs int    `json:"pending_jobs"`
}

// RecipeView is a recipe as listed to clients.
type RecipeView struct {
	Name         string         `json:"name"`
	Requirements []item.Stack   `json:"requirements"`
	Product      recipe.Product `json:"product"`
	ProductName  string         `json:"product_name"`
	CraftSeconds float64        `json:"craft_seconds"`
}

// HandleStartSession opens a new session.
// POST /api/sessions
func (api *InventoryAPI) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerName == "" {
		jsonError(w, "Missing player_name", http.StatusBadRequest)
		return
	}

	s, err := api.engine.StartSession(req.PlayerName)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	view, err := api.engine.Inventory(s.ID)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonWrite(w, http.StatusCreated, view)
}

// HandleListSessions lists hosted sessions.
// GET /api/sessions
func (api *InventoryAPI) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	var connected map[string]int
	if api.hub != nil {
		connected = api.hub.ConnectedSessions()
	}

	out := make([]SessionSummary, 0)
	for _, s := range api.engine.Sessions() {
		view, err := api.engine.Inventory(s.ID)
		if err != nil {
			continue
		}
		out = append(out, SessionSummary{
			SessionID:   s.ID,
			Player:      view.Player,
			Capacity:    view.Capacity,
			Used:        view.Used,
			Connected:   connected[s.ID],
			PendingJobs: len(api.engine.PendingCrafts(s.ID)),
		})
	}
	jsonSuccess(w, map[string]interface{}{
		"sessions": out,
		"count":    len(out),
	})
}

// HandleInventory returns the inventory panel of a session.
// GET /api/sessions/{id}/inventory
func (api *InventoryAPI) HandleInventory(w http.ResponseWriter, r *http.Request) {
	view, err := api.engine.Inventory(mux.Vars(r)["id"])
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jsonSuccess(w, view)
}

// HandleCollect picks up an item.
// POST /api/sessions/{id}/collect
func (api *InventoryAPI) HandleCollect(w http.ResponseWriter, r *http.Request) {
	api.handleItem(w, r, engine.CommandCollect)
}

// HandleDrop removes an item.
// POST /api/sessions/{id}/drop
func (api *InventoryAPI) HandleDrop(w http.ResponseWriter, r *http.Request) {
	api.handleItem(w, r, engine.CommandDrop)
}

// amountOrOne treats a missing amount as a single item, for REST and
// WebSocket actions alike.
func amountOrOne(n int) int {
	if n == 0 {
		return 1
	}
	return n
}

func (api *InventoryAPI) handleItem(w http.ResponseWriter, r *http.Request, typ engine.CommandType) {
	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	api.run(w, engine.Command{
		Type:      typ,
		SessionID: mux.Vars(r)["id"],
		Item:      item.ID(req.Item),
		Amount:    amountOrOne(req.Amount),
	})
}

// HandleCraft starts a craft.
// POST /api/sessions/{id}/craft
func (api *InventoryAPI) HandleCraft(w http.ResponseWriter, r *http.Request) {
	var req CraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipe == "" {
		jsonError(w, "Missing recipe", http.StatusBadRequest)
		return
	}
	api.run(w, engine.Command{
		Type:      engine.CommandCraft,
		SessionID: mux.Vars(r)["id"],
		Recipe:    req.Recipe,
	})
}

// HandleCanCraft reports whether a session can afford a recipe.
// GET /api/sessions/{id}/recipes/{name}
func (api *InventoryAPI) HandleCanCraft(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	api.run(w, engine.Command{
		Type:      engine.CommandCanCraft,
		SessionID: vars["id"],
		Recipe:    vars["name"],
	})
}

// HandleEquip holds the item in a slot.
// POST /api/sessions/{id}/equip
func (api *InventoryAPI) HandleEquip(w http.ResponseWriter, r *http.Request) {
	var req EquipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slot == nil {
		jsonError(w, "Missing slot", http.StatusBadRequest)
		return
	}
	api.run(w, engine.Command{
		Type:      engine.CommandEquip,
		SessionID: mux.Vars(r)["id"],
		Slot:      *req.Slot,
	})
}

// HandleUnequip puts the held item away.
// POST /api/sessions/{id}/unequip
func (api *InventoryAPI) HandleUnequip(w http.ResponseWriter, r *http.Request) {
	api.run(w, engine.Command{
		Type:      engine.CommandUnequip,
		SessionID: mux.Vars(r)["id"],
	})
}

// HandlePendingCrafts lists the unfinished crafts of a session.
// GET /api/sessions/{id}/crafts
func (api *InventoryAPI) HandlePendingCrafts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := api.engine.Inventory(id); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	jobs := api.engine.PendingCrafts(id)
	if jobs == nil {
		jobs = []engine.CraftJob{}
	}
	jsonSuccess(w, map[string]interface{}{
		"session_id": id,
		"crafts":     jobs,
	})
}

// HandleRecap returns what happened to a session since a point in time.
// GET /api/sessions/{id}/recap?since=RFC3339
func (api *InventoryAPI) HandleRecap(w http.ResponseWriter, r *http.Request) {
	if api.recap == nil {
		jsonError(w, "Recap needs persistent storage", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}

	recap, err := api.recap.GenerateRecap(r.Context(), id, since)
	if err != nil {
		api.logger.Errorf("Recap for %s failed: %v", id, err)
		jsonError(w, "Recap unavailable", http.StatusInternalServerError)
		return
	}
	jsonSuccess(w, map[string]interface{}{
		"session_id": id,
		"events":     recap,
	})
}

// HandleRecipes lists every recipe.
// GET /api/recipes
func (api *InventoryAPI) HandleRecipes(w http.ResponseWriter, r *http.Request) {
	ledger := api.engine.Ledger()
	if ledger == nil {
		jsonError(w, engine.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	out := make([]RecipeView, 0, ledger.Len())
	for _, name := range ledger.Names() {
		rec, _ := ledger.GetRecipe(name)
		out = append(out, recipeView(rec))
	}
	jsonSuccess(w, map[string]interface{}{
		"recipes": out,
		"count":   len(out),
	})
}

// HandleRecipe returns one recipe, suggesting a close name on a miss.
// GET /api/recipes/{name}
func (api *InventoryAPI) HandleRecipe(w http.ResponseWriter, r *http.Request) {
	ledger := api.engine.Ledger()
	if ledger == nil {
		jsonError(w, engine.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	name := mux.Vars(r)["name"]
	rec, ok := ledger.GetRecipe(name)
	if !ok {
		body := map[string]string{"error": "Recipe not found"}
		if s, found := ledger.Suggest(name); found {
			body["suggestion"] = s
		}
		jsonWrite(w, http.StatusNotFound, body)
		return
	}
	jsonSuccess(w, recipeView(rec))
}

// RegisterRoutes sets up the inventory API routes.
func (api *InventoryAPI) RegisterRoutes(router *mux.Router) {
	s := router.PathPrefix("/api").Subrouter()
	s.HandleFunc("/sessions", api.HandleStartSession).Methods(http.MethodPost)
	s.HandleFunc("/sessions", api.HandleListSessions).Methods(http.MethodGet)
	s.HandleFunc("/sessions/{id}/inventory", api.HandleInventory).Methods(http.MethodGet)
	s.HandleFunc("/sessions/{id}/collect", api.HandleCollect).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{id}/drop", api.HandleDrop).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{id}/craft", api.HandleCraft).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{id}/crafts", api.HandlePendingCrafts).Methods(http.MethodGet)
	s.HandleFunc("/sessions/{id}/recipes/{name}", api.HandleCanCraft).Methods(http.MethodGet)
	s.HandleFunc("/sessions/{id}/equip", api.HandleEquip).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{id}/unequip", api.HandleUnequip).Methods(http.MethodPost)
	s.HandleFunc("/sessions/{id}/recap", api.HandleRecap).Methods(http.MethodGet)
	s.HandleFunc("/recipes", api.HandleRecipes).Methods(http.MethodGet)
	s.HandleFunc("/recipes/{name}", api.HandleRecipe).Methods(http.MethodGet)

	router.HandleFunc("/metrics", api.metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/metrics/prometheus", api.metrics.PrometheusHandler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", api.HandleHealth).Methods(http.MethodGet)
}

// HandleHealth reports whether the engine accepts commands.
// GET /healthz
func (api *InventoryAPI) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !api.engine.Ready() {
		jsonError(w, engine.ErrNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	jsonSuccess(w, map[string]interface{}{
		"status":   "ok",
		"sessions": len(api.engine.Sessions()),
	})
}

// run executes a command and answers with its Reply. A rejected command
// still returns the Reply so clients see what was missing.
func (api *InventoryAPI) run(w http.ResponseWriter, cmd engine.Command) {
	reply, err := api.engine.Handle(cmd)
	if err != nil {
		api.logger.Infof("[API] %s %s rejected: %v", cmd.SessionID, cmd.Type, err)
		jsonWrite(w, statusFor(err), reply)
		return
	}
	jsonSuccess(w, reply)
}

func recipeView(r recipe.Recipe) RecipeView {
	return RecipeView{
		Name:         r.Name,
		Requirements: r.Requirements,
		Product:      r.Product,
		ProductName:  item.DisplayName(r.Product.Item),
		CraftSeconds: r.CraftTime.Seconds(),
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnknownSession), errors.Is(err, recipe.ErrRecipeNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrCapacityExceeded),
		errors.Is(err, inventory.ErrInsufficientQuantity),
		errors.Is(err, recipe.ErrInsufficientResources),
		errors.Is(err, engine.ErrSessionExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// jsonError sends an error response.
func jsonError(w http.ResponseWriter, message string, status int) {
	jsonWrite(w, status, map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func jsonSuccess(w http.ResponseWriter, data interface{}) {
	jsonWrite(w, http.StatusOK, data)
}

func jsonWrite(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
