package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/ferme/internal/db"
	"github.com/erazemk/ferme/internal/export"
	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "password"
)

// setupTestServer starts a server with two farms and four users:
// root (superadmin), alice (admin of farm-a), carol (admin of farm-b) and
// bob (user on farm-b).
func setupTestServer(t *testing.T, hub *live.Hub) (*httptest.Server, *sql.DB) {
	t.Helper()
	database := db.NewTestDB(t)
	router := NewRouter(Config{DB: database, JWTSecret: testJWTSecret, Hub: hub})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	for _, farm := range []struct{ id, name string }{{"farm-a", "Ferme A"}, {"farm-b", "Ferme B"}} {
		if _, err := store.CreateFarm(ctx, database, farm.id, farm.name); err != nil {
			t.Fatalf("creating farm: %v", err)
		}
	}

	ids := map[string]string{}
	for _, u := range []model.User{
		{Username: "root", Role: model.RoleSuperAdmin},
		{Username: "alice", Role: model.RoleAdmin, FarmID: "farm-a"},
		{Username: "carol", Role: model.RoleAdmin, FarmID: "farm-b"},
		{Username: "bob", Role: model.RoleUser, FarmID: "farm-b"},
	} {
		u.PasswordHash = string(hash)
		created, err := store.CreateUser(ctx, database, u)
		if err != nil {
			t.Fatalf("creating user %s: %v", u.Username, err)
		}
		ids[u.Username] = created.ID
	}
	if err := store.SetFarmAdmins(ctx, database, "farm-a", []string{ids["alice"]}); err != nil {
		t.Fatalf("setting admins: %v", err)
	}
	if err := store.SetFarmAdmins(ctx, database, "farm-b", []string{ids["carol"]}); err != nil {
		t.Fatalf("setting admins: %v", err)
	}

	return server, database
}

func login(t *testing.T, server *httptest.Server, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": testPassword})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed for %s: %d", username, resp.StatusCode)
	}

	var loginResp loginResponse
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

// call sends an authenticated JSON request and decodes the response into out
// when out is not nil. It returns the status code.
func call(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func addStock(t *testing.T, server *httptest.Server, token, farmID, item string, qty int) model.StockItem {
	t.Helper()
	var s model.StockItem
	status := call(t, "POST", server.URL+"/api/stocks", token, map[string]any{
		"item": item, "quantity": qty, "unit": "paires", "secteur_id": farmID,
	}, &s)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 adding stock, got %d", status)
	}
	return s
}

func TestLoginEndpoint(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	body, _ = json.Marshal(map[string]string{"username": "alice", "password": testPassword})
	resp, err = http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	var lr loginResponse
	json.NewDecoder(resp.Body).Decode(&lr)
	if lr.User == nil || lr.User.FarmID != "farm-a" {
		t.Errorf("expected alice on farm-a, got %+v", lr.User)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	resp, err := http.Get(server.URL + "/api/stocks")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleBasedAccess(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	bob := login(t, server, "bob")

	if status := call(t, "GET", server.URL+"/api/users", bob, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for user listing users, got %d", status)
	}
	if status := call(t, "POST", server.URL+"/api/farms", bob, map[string]string{"nom": "X"}, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for user creating farm, got %d", status)
	}

	alice := login(t, server, "alice")
	status := call(t, "POST", server.URL+"/api/users", alice, map[string]any{
		"username": "mallory", "password": testPassword, "role": model.RoleSuperAdmin,
	}, nil)
	if status != http.StatusForbidden {
		t.Errorf("expected 403 for admin creating superadmin, got %d", status)
	}
}

func TestTransferFlow(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	src := addStock(t, server, alice, "", "Gants", 10)
	if src.FarmID != "farm-a" {
		t.Fatalf("expected stock on caller's farm, got %q", src.FarmID)
	}

	var transfer model.StockTransfer
	status := call(t, "POST", server.URL+"/api/transfers", alice, map[string]any{
		"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 4,
	}, &transfer)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if transfer.Status != model.TransferPending || transfer.Priority != model.PriorityMedium {
		t.Errorf("unexpected transfer %+v", transfer)
	}
	if !strings.HasPrefix(transfer.TrackingNumber, "TRF-") {
		t.Errorf("unexpected tracking number %q", transfer.TrackingNumber)
	}

	var inbox struct {
		Notifications []model.TransferNotification `json:"notifications"`
		Unread        int                          `json:"unread"`
	}
	call(t, "GET", server.URL+"/api/notifications", bob, nil, &inbox)
	if inbox.Unread != 1 || len(inbox.Notifications) != 1 {
		t.Fatalf("expected one unread notification, got %+v", inbox)
	}

	// Only the destination farm confirms.
	if status := call(t, "POST", server.URL+"/api/transfers/"+transfer.ID+"/confirm", alice, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for source farm confirming, got %d", status)
	}

	var confirmed model.StockTransfer
	if status := call(t, "POST", server.URL+"/api/transfers/"+transfer.ID+"/confirm", bob, nil, &confirmed); status != http.StatusOK {
		t.Fatalf("expected 200 confirming, got %d", status)
	}
	if confirmed.Status != model.TransferDelivered || confirmed.DeliveredAt == nil {
		t.Errorf("expected delivered transfer, got %+v", confirmed)
	}

	var conflict map[string]string
	if status := call(t, "POST", server.URL+"/api/transfers/"+transfer.ID+"/confirm", bob, nil, &conflict); status != http.StatusConflict {
		t.Errorf("expected 409 confirming twice, got %d", status)
	}
	if conflict["status"] != string(model.TransferDelivered) {
		t.Errorf("expected current status in conflict body, got %v", conflict)
	}

	var stocks []model.StockItem
	call(t, "GET", server.URL+"/api/stocks", alice, nil, &stocks)
	if len(stocks) != 1 || stocks[0].Quantity != 6 {
		t.Errorf("expected 6 left at source, got %+v", stocks)
	}
	call(t, "GET", server.URL+"/api/stocks", bob, nil, &stocks)
	if len(stocks) != 1 || stocks[0].Quantity != 4 || stocks[0].Item != "Gants" {
		t.Errorf("expected 4 Gants at destination, got %+v", stocks)
	}

	call(t, "GET", server.URL+"/api/notifications", bob, nil, &inbox)
	if inbox.Unread != 0 {
		t.Errorf("expected notification acknowledged on confirm, got %d unread", inbox.Unread)
	}
}

func TestTransferErrors(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	src := addStock(t, server, alice, "", "Engrais", 5)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		field  string
	}{
		{"zero quantity", map[string]any{"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 0}, http.StatusBadRequest, "quantity"},
		{"missing destination", map[string]any{"stock_item_id": src.ID, "quantity": 1}, http.StatusBadRequest, "to_ferme_id"},
		{"same farm", map[string]any{"stock_item_id": src.ID, "to_ferme_id": "farm-a", "quantity": 1}, http.StatusBadRequest, "to_ferme_id"},
		{"bad priority", map[string]any{"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 1, "priority": "asap"}, http.StatusBadRequest, "priority"},
		{"too much", map[string]any{"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 6}, http.StatusConflict, ""},
		{"unknown stock", map[string]any{"stock_item_id": "nope", "to_ferme_id": "farm-b", "quantity": 1}, http.StatusNotFound, ""},
		{"unknown farm", map[string]any{"stock_item_id": src.ID, "to_ferme_id": "farm-z", "quantity": 1}, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			status := call(t, "POST", server.URL+"/api/transfers", alice, tt.body, &body)
			if status != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, status, body)
			}
			if tt.field != "" && body["field"] != tt.field {
				t.Errorf("expected field %q, got %v", tt.field, body["field"])
			}
		})
	}

	var transfers []model.StockTransfer
	call(t, "GET", server.URL+"/api/transfers", alice, nil, &transfers)
	if len(transfers) != 0 {
		t.Errorf("expected no transfers after failures, got %d", len(transfers))
	}
}

func TestRejectAndCancel(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	carol := login(t, server, "carol")
	src := addStock(t, server, alice, "", "Semences", 8)

	var first, second model.StockTransfer
	call(t, "POST", server.URL+"/api/transfers", alice, map[string]any{
		"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 2,
	}, &first)
	call(t, "POST", server.URL+"/api/transfers", alice, map[string]any{
		"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 3, "priority": "urgent",
	}, &second)

	var body map[string]any
	if status := call(t, "POST", server.URL+"/api/transfers/"+first.ID+"/reject", carol, map[string]string{"reason": ""}, &body); status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty reason, got %d", status)
	}
	if body["field"] != "reason" {
		t.Errorf("expected reason field, got %v", body)
	}

	var rejected model.StockTransfer
	if status := call(t, "POST", server.URL+"/api/transfers/"+first.ID+"/reject", carol, map[string]string{"reason": "pas besoin"}, &rejected); status != http.StatusOK {
		t.Fatalf("expected 200 rejecting, got %d", status)
	}
	if rejected.Status != model.TransferRejected || rejected.RejectionReason != "pas besoin" {
		t.Errorf("unexpected rejected transfer %+v", rejected)
	}

	// The destination cannot cancel; the source can.
	if status := call(t, "POST", server.URL+"/api/transfers/"+second.ID+"/cancel", carol, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for destination cancelling, got %d", status)
	}
	var cancelled model.StockTransfer
	if status := call(t, "POST", server.URL+"/api/transfers/"+second.ID+"/cancel", alice, nil, &cancelled); status != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d", status)
	}
	if cancelled.Status != model.TransferCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if status := call(t, "POST", server.URL+"/api/transfers/"+second.ID+"/confirm", carol, nil, nil); status != http.StatusConflict {
		t.Errorf("expected 409 confirming cancelled transfer, got %d", status)
	}

	var stocks []model.StockItem
	call(t, "GET", server.URL+"/api/stocks", alice, nil, &stocks)
	if len(stocks) != 1 || stocks[0].Quantity != 8 {
		t.Errorf("expected source untouched, got %+v", stocks)
	}

	var pending []model.StockTransfer
	call(t, "GET", server.URL+"/api/transfers?status=pending", alice, nil, &pending)
	if len(pending) != 0 {
		t.Errorf("expected no pending transfers, got %d", len(pending))
	}
}

func TestTransferVisibility(t *testing.T) {
	server, database := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")
	src := addStock(t, server, alice, "", "Bâches", 3)

	var transfer model.StockTransfer
	call(t, "POST", server.URL+"/api/transfers", alice, map[string]any{
		"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 1,
	}, &transfer)

	if _, err := store.CreateFarm(context.Background(), database, "farm-c", "Ferme C"); err != nil {
		t.Fatalf("creating farm: %v", err)
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	store.CreateUser(context.Background(), database, model.User{
		Username: "dave", PasswordHash: string(hash), Role: model.RoleUser, FarmID: "farm-c",
	})
	dave := login(t, server, "dave")

	if status := call(t, "GET", server.URL+"/api/transfers/"+transfer.ID, bob, nil, nil); status != http.StatusOK {
		t.Errorf("expected destination to see transfer, got %d", status)
	}
	if status := call(t, "GET", server.URL+"/api/transfers/"+transfer.ID, dave, nil, nil); status != http.StatusNotFound {
		t.Errorf("expected 404 for unrelated farm, got %d", status)
	}
	var list []model.StockTransfer
	call(t, "GET", server.URL+"/api/transfers", dave, nil, &list)
	if len(list) != 0 {
		t.Errorf("expected no transfers for unrelated farm, got %d", len(list))
	}
}

func TestStockScoping(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")

	s := addStock(t, server, alice, "", "Gants", 2)
	// A non-elevated caller's farm wins over the requested one.
	other := addStock(t, server, bob, "farm-a", "Bottes", 1)
	if other.FarmID != "farm-b" {
		t.Errorf("expected stock on bob's farm, got %q", other.FarmID)
	}

	if status := call(t, "GET", server.URL+"/api/stocks/"+s.ID, bob, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 reading another farm's stock, got %d", status)
	}
	if status := call(t, "DELETE", server.URL+"/api/stocks/"+s.ID, bob, nil, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 deleting another farm's stock, got %d", status)
	}

	// Adding the same item merges quantities.
	merged := addStock(t, server, alice, "", " gants ", 3)
	if merged.ID != s.ID || merged.Quantity != 5 {
		t.Errorf("expected merged record with 5, got %+v", merged)
	}
}

func TestAggregateEndpoint(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	root := login(t, server, "root")

	addStock(t, server, root, "farm-a", "Gants", 3)
	addStock(t, server, root, "farm-b", "gants", 4)
	addStock(t, server, root, "farm-b", "Bottes", 1)

	var resp aggregateResponse
	if status := call(t, "GET", server.URL+"/api/stocks/aggregate?search=GAN", root, nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.TotalItems != 1 || len(resp.Rows) != 1 {
		t.Fatalf("expected one aggregated row, got %+v", resp)
	}
	row := resp.Rows[0]
	if row.TotalQuantity != 7 || len(row.Farms) != 2 {
		t.Errorf("expected 7 across two farms, got %+v", row)
	}

	call(t, "GET", server.URL+"/api/stocks/aggregate?page=9", root, nil, &resp)
	if resp.Page != 1 || resp.Pages != 1 || resp.TotalItems != 2 {
		t.Errorf("expected clamped single page, got page %d of %d (%d items)", resp.Page, resp.Pages, resp.TotalItems)
	}
}

func TestExportEndpoints(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	root := login(t, server, "root")
	addStock(t, server, root, "farm-a", "Gants", 3)

	for _, path := range []string{"/api/stocks/export", "/api/stocks/export?ferme_id=farm-a", "/api/transfers/export"} {
		req, _ := http.NewRequest("GET", server.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+root)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != export.ContentType {
			t.Errorf("GET %s: unexpected content type %q", path, ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".xlsx") {
			t.Errorf("GET %s: unexpected disposition %q", path, cd)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	token := login(t, server, "alice")

	if status := call(t, "POST", server.URL+"/api/auth/logout", token, nil, nil); status != http.StatusOK {
		t.Fatalf("expected 200 logging out, got %d", status)
	}
	if status := call(t, "GET", server.URL+"/api/stocks", token, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 with revoked token, got %d", status)
	}
}

func TestWorkerConflict(t *testing.T) {
	server, _ := setupTestServer(t, nil)
	alice := login(t, server, "alice")
	carol := login(t, server, "carol")

	var worker model.Worker
	status := call(t, "POST", server.URL+"/api/workers", alice, map[string]string{
		"nom": "Ahmed", "cin": "ab123", "date_entree": "2024-01-15",
	}, &worker)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if worker.CIN != "AB123" || worker.FarmID != "farm-a" {
		t.Errorf("unexpected worker %+v", worker)
	}

	var conflict struct {
		FarmName   string   `json:"ferme_name"`
		Recipients []string `json:"recipients"`
	}
	status = call(t, "POST", server.URL+"/api/workers", carol, map[string]string{
		"nom": "Ahmed", "cin": "AB123",
	}, &conflict)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate CIN, got %d", status)
	}
	if conflict.FarmName != "Ferme A" || len(conflict.Recipients) != 1 {
		t.Errorf("unexpected conflict body %+v", conflict)
	}

	if status := call(t, "POST", server.URL+"/api/workers/"+worker.ID+"/exit", carol, map[string]string{}, nil); status != http.StatusForbidden {
		t.Errorf("expected 403 for other farm recording exit, got %d", status)
	}
	status = call(t, "POST", server.URL+"/api/workers/"+worker.ID+"/exit", alice, map[string]string{
		"date_sortie": "2024-03-01", "requesting_ferme_id": "farm-b",
	}, &worker)
	if status != http.StatusOK || worker.Active() {
		t.Fatalf("expected inactive worker, got %d %+v", status, worker)
	}

	status = call(t, "POST", server.URL+"/api/workers", carol, map[string]string{
		"nom": "Ahmed", "cin": "AB123",
	}, nil)
	if status != http.StatusCreated {
		t.Errorf("expected 201 after exit, got %d", status)
	}

	status = call(t, "POST", server.URL+"/api/workers", carol, map[string]string{
		"nom": "Karim", "cin": "CD9", "date_entree": "15/01/2024",
	}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed date, got %d", status)
	}
}

func TestLiveUpdates(t *testing.T) {
	hub := live.NewHub(nil)
	t.Cleanup(hub.Close)
	server, _ := setupTestServer(t, hub)
	alice := login(t, server, "alice")
	bob := login(t, server, "bob")
	src := addStock(t, server, alice, "", "Gants", 10)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws?collection=stock_transfers&access_token=" + bob
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var transfer model.StockTransfer
	call(t, "POST", server.URL+"/api/transfers", alice, map[string]any{
		"stock_item_id": src.ID, "to_ferme_id": "farm-b", "quantity": 1,
	}, &transfer)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev live.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.Collection != live.CollectionTransfers || ev.ID != transfer.ID || ev.Op != live.OpCreate {
		t.Errorf("unexpected event %+v", ev)
	}
}
