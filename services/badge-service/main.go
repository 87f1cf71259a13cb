package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/workshoplabs/badgeledger/pkg/common"
	"github.com/workshoplabs/badgeledger/pkg/common/api"
	"github.com/workshoplabs/badgeledger/pkg/common/db"
	"github.com/workshoplabs/badgeledger/pkg/common/migrations"
	"github.com/workshoplabs/badgeledger/pkg/fabricclient"
	"github.com/workshoplabs/badgeledger/services/badge-service/models"
)

type Service struct {
	fabric *fabricclient.Client
	db     *sql.DB
}

func (s *Service) CreateTypeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	result, err := s.fabric.SubmitTransaction("CreateBadgeType",
		req.Name, req.Category,
		strconv.FormatUint(req.MaxSupply, 10),
		strconv.FormatBool(req.Transferable),
		req.MetadataRef)
	if err != nil {
		log.Printf("Failed to create badge type on chain: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	typeID, _ := strconv.ParseUint(string(result), 10, 64)
	api.WriteSuccess(w, http.StatusCreated, map[string]interface{}{"type_id": typeID, "status": "created"})
}

func (s *Service) CreateWorkshopSeriesHandler(w http.ResponseWriter, r *http.Request) {
	var req models.WorkshopSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	result, err := s.fabric.SubmitTransaction("CreateWorkshopSeries",
		req.SeriesName, strconv.Itoa(req.Sessions))
	if err != nil {
		log.Printf("Failed to create workshop series on chain: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	var ids []uint64
	if err := json.Unmarshal(result, &ids); err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to parse chaincode response", "")
		return
	}
	api.WriteSuccess(w, http.StatusCreated, map[string]interface{}{"type_ids": ids, "status": "created"})
}

func (s *Service) GrantAchievementHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AchievementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	issuanceID := "ach-" + time.Now().Format("20060102150405.000")
	s.recordIssuance(issuanceID, req.Account, 0, 1)

	result, err := s.fabric.SubmitTransaction("GrantSpecialAchievement",
		req.Account, req.Name, strconv.FormatUint(req.RarityTier, 10))
	if err != nil {
		log.Printf("Failed to grant achievement on chain: %v", err)
		s.db.Exec("UPDATE badges_db.issuances SET status = 'Failed' WHERE id = $1", issuanceID)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	typeID, _ := strconv.ParseUint(string(result), 10, 64)
	s.db.Exec("UPDATE badges_db.issuances SET status = 'Confirmed', type_id = $1 WHERE id = $2", typeID, issuanceID)

	api.WriteSuccess(w, http.StatusCreated, map[string]interface{}{"type_id": typeID, "account": req.Account, "status": "granted"})
}

func (s *Service) IssueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	issuanceID := "iss-" + time.Now().Format("20060102150405.000")
	s.recordIssuance(issuanceID, req.Account, req.TypeID, 1)

	_, err := s.fabric.SubmitTransaction("IssueBadge",
		req.Account, strconv.FormatUint(req.TypeID, 10))
	if err != nil {
		log.Printf("Failed to issue badge on chain: %v", err)
		s.db.Exec("UPDATE badges_db.issuances SET status = 'Failed' WHERE id = $1", issuanceID)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	s.db.Exec("UPDATE badges_db.issuances SET status = 'Confirmed' WHERE id = $1", issuanceID)
	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{"issuance_id": issuanceID, "status": "issued"})
}

func (s *Service) BatchIssueHandler(w http.ResponseWriter, r *http.Request) {
	var req models.BatchIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}
	if len(req.Accounts) == 0 {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "No recipient accounts", "")
		return
	}

	issuanceID := "bat-" + time.Now().Format("20060102150405.000")
	for _, account := range req.Accounts {
		s.recordIssuance(issuanceID+"-"+account, account, req.TypeID, req.AmountEach)
	}

	accountsJSON, _ := json.Marshal(req.Accounts)
	_, err := s.fabric.SubmitTransaction("IssueBatch",
		string(accountsJSON),
		strconv.FormatUint(req.TypeID, 10),
		strconv.FormatUint(req.AmountEach, 10))

	status := "Confirmed"
	if err != nil {
		log.Printf("Failed to issue batch on chain: %v", err)
		status = "Failed"
	}
	for _, account := range req.Accounts {
		s.db.Exec("UPDATE badges_db.issuances SET status = $1 WHERE id = $2", status, issuanceID+"-"+account)
	}
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"issuance_id": issuanceID,
		"recipients":  len(req.Accounts),
		"status":      "issued",
	})
}

func (s *Service) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	_, err := s.fabric.SubmitTransaction("TransferBadge",
		req.From, req.To,
		strconv.FormatUint(req.TypeID, 10),
		strconv.FormatUint(req.Amount, 10))
	if err != nil {
		log.Printf("Failed to transfer badge on chain: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Service) GetTypeHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := s.fabric.EvaluateTransaction("GetBadgeType", id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "type_not_found", "Badge type not found", "")
		return
	}

	var bt models.BadgeType
	if err := json.Unmarshal(result, &bt); err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to parse badge type", "")
		return
	}

	if ref, err := s.fabric.EvaluateTransaction("GetBadgeMetadata", id); err == nil {
		bt.MetadataRef = string(ref)
	}

	api.WriteSuccess(w, http.StatusOK, bt)
}

func (s *Service) HoldingsHandler(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	result, err := s.fabric.EvaluateTransaction("TokensHeldBy", account)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to read holdings", "")
		return
	}

	var ids []uint64
	if err := json.Unmarshal(result, &ids); err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to parse holdings", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, models.Holdings{Account: account, TypeIDs: ids})
}

func (s *Service) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account := vars["account"]
	typeID, err := strconv.ParseUint(vars["typeId"], 10, 64)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid type id", "")
		return
	}

	result, err := s.fabric.EvaluateTransaction("BalanceOf", account, vars["typeId"])
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to read balance", "")
		return
	}

	amount, _ := strconv.ParseUint(string(result), 10, 64)
	api.WriteSuccess(w, http.StatusOK, models.Balance{Account: account, TypeID: typeID, Amount: amount})
}

func (s *Service) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	result, err := s.fabric.EvaluateTransaction("VerifyBadge", vars["account"], vars["typeId"])
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to verify badge", "")
		return
	}

	var res models.VerifyResponse
	if err := json.Unmarshal(result, &res); err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to parse verification", "")
		return
	}

	api.WriteSuccess(w, http.StatusOK, res)
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "healthy", "service": "badge-service"})
}

// recordIssuance journals a Pending issuance before the chain submit; the
// caller flips it to Confirmed or Failed afterwards.
func (s *Service) recordIssuance(id, account string, typeID, amount uint64) {
	_, err := s.db.Exec(`
		INSERT INTO badges_db.issuances (id, account, type_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)`,
		id, account, typeID, amount, "Pending")
	if err != nil {
		log.Printf("Failed to journal issuance %s: %v", id, err)
	}
}

func main() {
	cfg := common.LoadConfig()

	database, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer database.Close()

	if err := migrations.RunMigrations(database, "migrations/badges"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	fabric, err := fabricclient.NewClient(
		cfg.FabricConfig,
		cfg.ChannelName,
		cfg.ChaincodeName,
		cfg.MSP,
		cfg.CertPath,
		cfg.KeyPath,
	)
	if err != nil {
		log.Printf("Warning: Fabric connection failed: %v", err)
	} else {
		defer fabric.Close()
	}

	svc := &Service{fabric: fabric, db: database}
	authMW := common.AuthMiddleware([]byte(cfg.JWTSecret))

	r := mux.NewRouter()

	// Mutations require an authenticated issuer.
	r.Handle("/badges/types", authMW(common.RequireRole("ISSUER", svc.CreateTypeHandler))).Methods("POST")
	r.Handle("/badges/workshop-series", authMW(common.RequireRole("ISSUER", svc.CreateWorkshopSeriesHandler))).Methods("POST")
	r.Handle("/badges/achievements", authMW(common.RequireRole("ISSUER", svc.GrantAchievementHandler))).Methods("POST")
	r.Handle("/badges/issue", authMW(common.RequireRole("ISSUER", svc.IssueHandler))).Methods("POST")
	r.Handle("/badges/issue/batch", authMW(common.RequireRole("ISSUER", svc.BatchIssueHandler))).Methods("POST")
	r.Handle("/badges/transfer", authMW(http.HandlerFunc(svc.TransferHandler))).Methods("POST")

	// Queries are open: anyone may check what an account holds.
	r.HandleFunc("/badges/types/{id}", svc.GetTypeHandler).Methods("GET")
	r.HandleFunc("/badges/accounts/{account}", svc.HoldingsHandler).Methods("GET")
	r.HandleFunc("/badges/accounts/{account}/{typeId}", svc.BalanceHandler).Methods("GET")
	r.HandleFunc("/badges/accounts/{account}/{typeId}/verify", svc.VerifyHandler).Methods("GET")
	r.HandleFunc("/health", svc.HealthHandler).Methods("GET")

	log.Printf("Badge Service running on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
