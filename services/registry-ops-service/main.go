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
	"github.com/workshoplabs/badgeledger/pkg/fabricclient"
)

// Service is the backend for the registry operations console: pausing,
// capability administration, metadata, and issuance oversight.
type Service struct {
	db     *sql.DB
	fabric *fabricclient.Client
}

type CapabilityRequest struct {
	Capability string `json:"capability"`
	Account    string `json:"account"`
	Reason     string `json:"reason"`
}

type MetadataRequest struct {
	TypeID      uint64 `json:"type_id"`
	MetadataRef string `json:"metadata_ref"`
}

type IssuanceStats struct {
	Issuances24h int       `json:"issuances_24h"`
	Confirmed24h int       `json:"confirmed_24h"`
	Failed24h    int       `json:"failed_24h"`
	Paused       bool      `json:"paused"`
	LastUpdated  time.Time `json:"last_updated"`
}

func (s *Service) PauseHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.fabric.SubmitTransaction("Pause"); err != nil {
		log.Printf("Failed to pause registry: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Service) UnpauseHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.fabric.SubmitTransaction("Unpause"); err != nil {
		log.Printf("Failed to unpause registry: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Service) GrantCapabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req CapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	if _, err := s.fabric.SubmitTransaction("GrantCapability", req.Capability, req.Account); err != nil {
		log.Printf("Failed to grant capability: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"capability": req.Capability,
		"account":    req.Account,
		"status":     "granted",
	})
}

func (s *Service) RevokeCapabilityHandler(w http.ResponseWriter, r *http.Request) {
	var req CapabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	if _, err := s.fabric.SubmitTransaction("RevokeCapability", req.Capability, req.Account); err != nil {
		log.Printf("Failed to revoke capability: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"capability": req.Capability,
		"account":    req.Account,
		"status":     "revoked",
	})
}

func (s *Service) SetMetadataHandler(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", "")
		return
	}

	// The chaincode deliberately accepts ids that are not created yet.
	_, err := s.fabric.SubmitTransaction("SetBadgeMetadata",
		strconv.FormatUint(req.TypeID, 10), req.MetadataRef)
	if err != nil {
		log.Printf("Failed to set metadata: %v", err)
		api.WriteError(w, http.StatusUnprocessableEntity, "chain_rejected", err.Error(), "")
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Service) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	stats := IssuanceStats{LastUpdated: time.Now()}

	if s.fabric != nil {
		if result, err := s.fabric.EvaluateTransaction("IsPaused"); err == nil {
			json.Unmarshal(result, &stats.Paused)
		}
	}

	s.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'Confirmed'),
		       COUNT(*) FILTER (WHERE status = 'Failed')
		FROM badges_db.issuances
		WHERE created_at > NOW() - INTERVAL '24 hours'
	`).Scan(&stats.Issuances24h, &stats.Confirmed24h, &stats.Failed24h)

	api.WriteSuccess(w, http.StatusOK, stats)
}

func (s *Service) TypeSupplyHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	supply, err := s.fabric.EvaluateTransaction("CurrentSupply", id)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to read supply", "")
		return
	}
	typeRecord, err := s.fabric.EvaluateTransaction("GetBadgeType", id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, "type_not_found", "Badge type not found", "")
		return
	}

	var bt struct {
		MaxSupply uint64 `json:"max_supply"`
	}
	json.Unmarshal(typeRecord, &bt)
	current, _ := strconv.ParseUint(string(supply), 10, 64)

	api.WriteSuccess(w, http.StatusOK, map[string]uint64{
		"current_supply": current,
		"max_supply":     bt.MaxSupply,
	})
}

func (s *Service) AuditIssuancesHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, account, type_id, amount, status, created_at
		FROM badges_db.issuances ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to fetch issuances", "")
		return
	}
	defer rows.Close()

	type issuanceRow struct {
		ID        string    `json:"id"`
		Account   string    `json:"account"`
		TypeID    uint64    `json:"type_id"`
		Amount    uint64    `json:"amount"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}

	var audit []issuanceRow
	for rows.Next() {
		var row issuanceRow
		if err := rows.Scan(&row.ID, &row.Account, &row.TypeID, &row.Amount, &row.Status, &row.CreatedAt); err == nil {
			audit = append(audit, row)
		}
	}

	api.WriteSuccess(w, http.StatusOK, audit)
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "registry-ops-service",
	})
}

func main() {
	cfg := common.LoadConfig()

	database, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer database.Close()

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

	svc := &Service{db: database, fabric: fabric}
	authMW := common.AuthMiddleware([]byte(cfg.JWTSecret))

	r := mux.NewRouter()

	// Registry state machine
	r.Handle("/ops/pause", authMW(common.RequireRole("ADMIN", svc.PauseHandler))).Methods("POST")
	r.Handle("/ops/unpause", authMW(common.RequireRole("ADMIN", svc.UnpauseHandler))).Methods("POST")

	// Capability administration
	r.Handle("/ops/capabilities/grant", authMW(common.RequireRole("ADMIN", svc.GrantCapabilityHandler))).Methods("POST")
	r.Handle("/ops/capabilities/revoke", authMW(common.RequireRole("ADMIN", svc.RevokeCapabilityHandler))).Methods("POST")

	// Metadata
	r.Handle("/ops/metadata", authMW(common.RequireRole("ADMIN", svc.SetMetadataHandler))).Methods("POST")

	// Oversight
	r.HandleFunc("/ops/dashboard", svc.DashboardHandler).Methods("GET")
	r.HandleFunc("/ops/types/{id}/supply", svc.TypeSupplyHandler).Methods("GET")
	r.Handle("/ops/audit/issuances", authMW(common.RequireRole("ADMIN", svc.AuditIssuancesHandler))).Methods("GET")

	r.HandleFunc("/health", svc.HealthHandler).Methods("GET")

	log.Printf("Registry Ops Service running on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
