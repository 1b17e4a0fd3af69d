package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NDmajor/misery-proto-open/internal/model"
	"github.com/NDmajor/misery-proto-open/internal/stub"
)

// stubd runs the in-memory fake contract backend for local development.
func main() {
	_ = godotenv.Load(".env")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8443"
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	accessTTL := 15 * time.Minute
	if ttl := os.Getenv("ACCESS_TOKEN_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			log.Fatalf("Invalid ACCESS_TOKEN_TTL: %v", err)
		}
		accessTTL = d
	}

	server := stub.NewServer(secret, accessTTL)
	if os.Getenv("DEV_MODE") == "true" {
		seedDemoData(server)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Stub backend starting on port %s (access token TTL %s)", port, accessTTL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down stub backend...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Stub backend exited")
}

// seedDemoData creates two accounts and a contract awaiting signatures, so a
// freshly started stub is immediately usable from miseryctl.
func seedDemoData(server *stub.Server) {
	alice := server.AddUser("alice", "alice@example.com", "password")
	bob := server.AddUser("bob", "bob@example.com", "password")

	version := model.Version{
		ID:            100,
		VersionNumber: 1,
		FilePath:      "contracts/demo/v1/agreement.pdf",
		FileHash:      strings.Repeat("ab", 32),
		Status:        model.VersionPendingSignature,
		CreatedAt:     time.Now(),
		Signatures:    []model.Signature{},
	}
	server.AddContract(&model.Contract{
		Title:       "Demo service agreement",
		Description: "Seeded by stubd in DEV_MODE",
		Status:      model.ContractOpen,
		CreatedBy:   *alice,
		Participants: []model.Participant{
			{UserUUID: alice.UUID, Username: alice.Username, Email: alice.Email, Role: model.RoleInitiator},
			{UserUUID: bob.UUID, Username: bob.Username, Email: bob.Email, Role: model.RoleCounterparty},
		},
		CurrentVersion: &version,
		VersionHistory: []model.Version{version},
	})

	log.Printf("Seeded demo users alice@example.com / bob@example.com (password: password)")
}
