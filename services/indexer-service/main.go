package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
	"github.com/workshoplabs/badgeledger/pkg/common"
	"github.com/workshoplabs/badgeledger/pkg/common/api"
	"github.com/workshoplabs/badgeledger/pkg/common/db"
	"github.com/workshoplabs/badgeledger/pkg/common/migrations"
	"github.com/workshoplabs/badgeledger/pkg/fabricclient"
	"github.com/workshoplabs/badgeledger/services/indexer-service/models"
)

// indexedEvents are the chaincode events persisted for off-chain consumers.
// Events are observational only; the engine never reads them back.
var indexedEvents = []string{
	"TypeCreated",
	"WorkshopSeriesCreated",
	"AchievementGranted",
	"BadgeIssued",
	"BatchIssued",
	"BadgeTransferred",
	"BadgeBurned",
}

type Service struct {
	db *sql.DB
}

func (s *Service) ingest(events <-chan *fab.CCEvent) {
	for e := range events {
		_, err := s.db.Exec(`
			INSERT INTO indexer_db.badge_events (event_name, tx_id, block_number, payload)
			VALUES ($1, $2, $3, $4)`,
			e.EventName, e.TxID, e.BlockNumber, string(e.Payload))
		if err != nil {
			log.Printf("Failed to index event %s (tx %s): %v", e.EventName, e.TxID, err)
			continue
		}
		log.Printf("Indexed %s event from tx %s", e.EventName, e.TxID)
	}
}

func (s *Service) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	query := `
		SELECT id, event_name, tx_id, block_number, payload, received_at
		FROM indexer_db.badge_events`
	args := []interface{}{}
	if name := r.URL.Query().Get("name"); name != "" {
		query += " WHERE event_name = $1"
		args = append(args, name)
	}
	query += " ORDER BY id DESC LIMIT 100"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to fetch events", "")
		return
	}
	defer rows.Close()

	var events []models.BadgeEvent
	for rows.Next() {
		var e models.BadgeEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.EventName, &e.TxID, &e.BlockNumber, &payload, &e.ReceivedAt); err == nil {
			e.Payload = json.RawMessage(payload)
			events = append(events, e)
		}
	}

	api.WriteSuccess(w, http.StatusOK, events)
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "indexer-service",
	})
}

func main() {
	cfg := common.LoadConfig()

	database, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer database.Close()

	if err := migrations.RunMigrations(database, "migrations/indexer"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	svc := &Service{db: database}

	fabric, err := fabricclient.NewClient(
		cfg.FabricConfig,
		cfg.ChannelName,
		cfg.ChaincodeName,
		cfg.MSP,
		cfg.CertPath,
		cfg.KeyPath,
	)
	if err != nil {
		log.Printf("Warning: Fabric connection failed, no events will be indexed: %v", err)
	} else {
		defer fabric.Close()
		for _, name := range indexedEvents {
			events, err := fabric.RegisterChaincodeEventListener(name)
			if err != nil {
				log.Fatalf("Failed to register listener for %s: %v", name, err)
			}
			go svc.ingest(events)
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/events", svc.ListEventsHandler).Methods("GET")
	r.HandleFunc("/health", svc.HealthHandler).Methods("GET")

	log.Printf("Indexer Service running on :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
