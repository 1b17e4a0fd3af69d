// miseryctl is the command-line client for the Misery contract backend:
// log in, list and inspect contracts, sign, and run integrity verification.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/NDmajor/misery-proto-open/internal/api"
	"github.com/NDmajor/misery-proto-open/internal/auth"
	"github.com/NDmajor/misery-proto-open/internal/config"
	"github.com/NDmajor/misery-proto-open/internal/contract"
	"github.com/NDmajor/misery-proto-open/internal/model"
	"github.com/NDmajor/misery-proto-open/internal/store"
)

const usage = `Usage: miseryctl <command> [args]

Commands:
  login <email>          authenticate and store the session
  logout                 end the session and clear stored credentials
  whoami                 show the authenticated user
  ls [search]            list my contracts, optionally filtered
  show <id>              show one contract with signing eligibility
  sign <id>              sign a contract's current version
  verify <id>            run the two-stage integrity verification
  upload <file> <title>  upload a PDF as a new contract
`

func main() {
	log.SetFlags(0)
	_ = godotenv.Load(".env")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			log.Fatal("not authenticated; run `miseryctl login <email>` first")
		}
		log.Fatalf("error: %v", err)
	}
}

type app struct {
	cfg     *config.Config
	store   store.Store
	client  *api.Client
	session *auth.Manager
}

func newApp(cfg *config.Config) (*app, error) {
	var credStore store.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid MISERY_REDIS_URL: %w", err)
		}
		credStore = store.NewRedis(redis.NewClient(opts), cfg.RedisNamespace)
	} else {
		credStore = store.NewFile(cfg.CredentialsFile)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// The refresh endpoint itself must not go through the session manager,
	// so the client is built first and the manager layered on top.
	client := api.NewClient(cfg.BaseURL, api.WithHTTPClient(httpClient))
	session := auth.NewManager(client, credStore, func() {
		fmt.Fprintln(os.Stderr, "session expired; please log in again")
	}, auth.WithRefreshLeeway(10*time.Second))

	authed := api.NewClient(cfg.BaseURL,
		api.WithHTTPClient(httpClient),
		api.WithTokenSource(session))

	return &app{cfg: cfg, store: credStore, client: authed, session: session}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "ls":
		return a.list(ctx, args)
	case "show":
		return a.show(ctx, args)
	case "sign":
		return a.sign(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "upload":
		return a.upload(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: miseryctl login <email>")
	}
	email := args[0]

	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")

	pair, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	err = a.store.Save(ctx, store.Credentials{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	fmt.Printf("logged in as %s\n", email)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		// Server-side logout is best effort; local state still gets cleared.
		log.Printf("warning: server logout failed: %v", err)
	}
	a.session.Logout(ctx)
	fmt.Println("logged out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s> (identity %s)\n", user.Username, user.Email, user.Identity())

	creds, err := a.store.Load(ctx)
	if err == nil && creds.AccessToken != "" {
		if remaining, err := auth.Remaining(creds.AccessToken, time.Now()); err == nil {
			fmt.Printf("access token valid for %s\n", remaining.Round(time.Second))
		}
	}
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	search := ""
	if len(args) > 0 {
		search = args[0]
	}
	contracts, err := a.client.MyContracts(ctx, search)
	if err != nil {
		return err
	}
	if len(contracts) == 0 {
		fmt.Println("no contracts")
		return nil
	}
	for _, c := range contracts {
		version := "-"
		if c.CurrentVersionNumber != nil {
			version = "v" + strconv.Itoa(*c.CurrentVersionNumber)
		}
		fmt.Printf("%6d  %-10s %-4s %s\n", c.ID, c.Status, version, c.Title)
	}
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	c, err := a.client.GetContract(ctx, id)
	if err != nil {
		return err
	}
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("#%d %s [%s]\n", c.ID, c.Title, c.Status)
	if c.Description != "" {
		fmt.Printf("  %s\n", c.Description)
	}
	fmt.Printf("  created by %s (%s) at %s\n", c.CreatedBy.Username, c.CreatedBy.Email,
		c.CreatedAt.Format("2006-01-02 15:04"))
	if v := c.CurrentVersion; v != nil {
		fmt.Printf("  current version v%d [%s], file hash %.20s...\n", v.VersionNumber, v.Status, v.FileHash)
		for _, sig := range v.Signatures {
			fmt.Printf("    signed by %s at %s\n", sig.SignerUsername, sig.SignedAt.Format("2006-01-02 15:04"))
		}
	}
	for _, p := range c.Participants {
		fmt.Printf("  %s: %s (%s)\n", strings.ToLower(string(p.Role)), p.Username, p.Email)
	}

	fmt.Printf("  signing: %s\n", describeDecision(contract.Evaluate(c, user)))
	return nil
}

func (a *app) sign(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	c, err := a.client.GetContract(ctx, id)
	if err != nil {
		return err
	}
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		return err
	}

	decision := contract.Evaluate(c, user)
	if !decision.CanSign {
		return fmt.Errorf("cannot sign contract %d: %s", id, describeDecision(decision))
	}
	if err := a.client.SignContract(ctx, id); err != nil {
		return err
	}
	fmt.Printf("signed contract %d (%s)\n", id, c.Title)
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	c, err := a.client.GetContract(ctx, id)
	if err != nil {
		return err
	}
	if c.CurrentVersion == nil {
		return fmt.Errorf("contract %d has no current version to verify", id)
	}

	verifier := contract.NewVerifier(a.client)
	defer verifier.Close()

	result, err := verifier.Verify(ctx, c.ID, c.CurrentVersion.VersionNumber)
	if err != nil {
		return err
	}

	if result.OverallSuccess {
		fmt.Printf("verification PASSED: %s\n", result.Message)
	} else {
		fmt.Printf("verification FAILED: %s\n", result.Message)
	}
	fmt.Printf("  verified at %s\n", result.VerifiedAt.Format("2006-01-02 15:04:05"))
	printStep("database record", result.DBVerification)
	printStep("external chain", result.BlockchainVerification)
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: miseryctl upload <file> <title> [participant-uuid...]")
	}
	path, title := args[0], args[1]
	participants := args[2:]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	meta := api.UploadRequest{Title: title, ParticipantIDs: participants}
	created, err := a.client.UploadContract(ctx, meta, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded contract %s\n", created)
	return nil
}

func parseID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("contract id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid contract id %q", args[0])
	}
	return id, nil
}

// describeDecision turns a display-neutral outcome code into CLI copy. This
// is view-layer text; the decision logic itself knows nothing about wording.
func describeDecision(d contract.Decision) string {
	switch d.Outcome {
	case contract.OutcomeNotParticipant:
		return "you are not a participant of this contract"
	case contract.OutcomeAlreadySigned:
		if d.UserSignature != nil {
			return "already signed at " + d.UserSignature.SignedAt.Format("2006-01-02 15:04")
		}
		return "already signed"
	case contract.OutcomeContractClosed:
		return "contract is closed"
	case contract.OutcomeContractCancelled:
		return "contract is cancelled"
	case contract.OutcomeVersionSigned:
		return "all signatures are complete"
	case contract.OutcomeVersionArchived:
		return "this version is archived"
	case contract.OutcomeCanSign:
		return "you can sign this contract"
	default:
		return "no signing action available"
	}
}

func printStep(name string, step model.VerificationStep) {
	fmt.Printf("  %s: %s (%s)\n", name, step.Status, step.Details)
	for _, d := range step.Discrepancies {
		fmt.Printf("    discrepancy: %s\n", d)
	}
}
