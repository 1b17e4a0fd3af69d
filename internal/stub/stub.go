// Package stub is an in-memory fake of the Misery contract backend, used by
// cmd/stubd for local development and by integration tests. It speaks the
// real wire format (ApiResponse envelope, bearer auth, HS256 access tokens,
// opaque refresh tokens) so the client exercises its full code path.
package stub

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/NDmajor/misery-proto-open/internal/api"
	"github.com/NDmajor/misery-proto-open/internal/model"
)

type account struct {
	user     model.User
	password string
}

// Server is the fake backend. Zero-value is not usable; use NewServer.
type Server struct {
	tokens       *TokenService
	loginLimiter *rateLimiter

	mu            sync.Mutex
	accounts      map[string]*account // keyed by email
	byUUID        map[string]*account
	contracts     map[int64]*model.Contract
	files         map[string][]byte
	refreshTokens map[string]string // token hash -> user UUID
	verifications map[string]*model.VerificationResult
	nextID        int64

	router http.Handler
}

// NewServer creates a stub backend signing tokens with secret. accessTTL
// controls how quickly clients must refresh.
func NewServer(secret string, accessTTL time.Duration) *Server {
	s := &Server{
		tokens:        NewTokenService(secret, accessTTL),
		loginLimiter:  newRateLimiter(10*time.Minute, 20),
		accounts:      make(map[string]*account),
		byUUID:        make(map[string]*account),
		contracts:     make(map[int64]*model.Contract),
		files:         make(map[string][]byte),
		refreshTokens: make(map[string]string),
		verifications: make(map[string]*model.VerificationResult),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)
		})
	})

	r.Route("/api/contracts", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/my", s.handleMyContracts)
		r.Post("/upload", s.handleUpload)
		r.Get("/versions/{versionID}/file-url", s.handleVersionFileURL)
		r.Get("/files/*", s.handleDownloadFile)
		r.Get("/{contractID}", s.handleGetContract)
		r.Post("/{contractID}/sign", s.handleSign)
		r.Post("/{contractID}/versions/{versionNumber}/verify", s.handleVerify)
	})

	return r
}

// Handler returns the HTTP handler, for httptest or an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

// --- seeding -----------------------------------------------------------

// AddUser registers an account and returns the stored user.
func (s *Server) AddUser(username, email, password string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	acc := &account{
		user: model.User{
			ID:       s.nextID,
			UUID:     uuid.NewString(),
			Username: username,
			Email:    email,
		},
		password: password,
	}
	s.accounts[email] = acc
	s.byUUID[acc.user.UUID] = acc
	return &acc.user
}

// AddContract stores a contract, assigning an id when missing, and returns it.
func (s *Server) AddContract(c *model.Contract) *model.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.contracts[c.ID] = c
	return c
}

// SetVerificationResult cans the result returned for one contract version.
// Without a canned result the stub reports both steps as SUCCESS.
func (s *Server) SetVerificationResult(contractID int64, versionNumber int, r *model.VerificationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[verificationKey(contractID, versionNumber)] = r
}

// RevokeRefreshTokens invalidates all issued refresh tokens, so the next
// refresh attempt fails the way a rotated or expired token would.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

func verificationKey(contractID int64, versionNumber int) string {
	return strconv.FormatInt(contractID, 10) + ":" + strconv.Itoa(versionNumber)
}

// --- auth handlers -----------------------------------------------------

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.allow(ipKey(r)) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.TrimSpace(req.Email)]
	s.mu.Unlock()
	if !ok || acc.password != req.Password {
		respondError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	accessToken, err := s.tokens.SignAccessToken(&acc.user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	refreshToken, hash, err := GenerateRefreshToken()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue refresh token")
		return
	}
	s.mu.Lock()
	s.refreshTokens[hash] = acc.user.UUID
	s.mu.Unlock()

	respondData(w, http.StatusOK, api.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	s.mu.Lock()
	userUUID, ok := s.refreshTokens[HashRefreshToken(req.RefreshToken)]
	var acc *account
	if ok {
		acc = s.byUUID[userUUID]
	}
	s.mu.Unlock()
	if acc == nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	accessToken, err := s.tokens.SignAccessToken(&acc.user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	respondData(w, http.StatusOK, map[string]string{"accessToken": accessToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Best-effort: if the caller presents a valid token, drop that user's
	// refresh tokens.
	if claims, err := s.bearerClaims(r); err == nil {
		s.mu.Lock()
		for hash, userUUID := range s.refreshTokens {
			if userUUID == claims.Subject {
				delete(s.refreshTokens, hash)
			}
		}
		s.mu.Unlock()
	}
	respondData(w, http.StatusOK, "logged out")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r)
	respondData(w, http.StatusOK, acc.user)
}

// --- contract handlers -------------------------------------------------

func (s *Server) handleMyContracts(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r)
	search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search")))

	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []model.ContractSummary
	for _, c := range s.contracts {
		if !s.involves(c, &acc.user) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Title), search) {
			continue
		}
		summaries = append(summaries, summarize(c))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	respondData(w, http.StatusOK, summaries)
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, ok := s.contractFrom(r)
	if !ok {
		respondError(w, http.StatusNotFound, "contract not found")
		return
	}
	respondData(w, http.StatusOK, c)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r)
	c, ok := s.contractFrom(r)
	if !ok {
		respondError(w, http.StatusNotFound, "contract not found")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.involves(c, &acc.user) {
		respondError(w, http.StatusForbidden, "not a participant of this contract")
		return
	}
	if c.Status != model.ContractOpen {
		respondError(w, http.StatusConflict, "contract is not open for signing")
		return
	}
	v := c.CurrentVersion
	if v == nil || v.Status != model.VersionPendingSignature {
		respondError(w, http.StatusConflict, "current version is not pending signature")
		return
	}
	for _, sig := range v.Signatures {
		if sig.SignerUUID == acc.user.UUID {
			respondError(w, http.StatusConflict, "already signed")
			return
		}
	}

	now := time.Now()
	v.Signatures = append(v.Signatures, model.Signature{
		SignerUUID:     acc.user.UUID,
		SignerUsername: acc.user.Username,
		SignedAt:       now,
		SignatureHash:  signatureHash(acc.user.UUID, v.FileHash, now),
	})
	// The version flips to SIGNED once every participant has signed.
	if len(v.Signatures) >= len(c.Participants) && len(c.Participants) > 0 {
		v.Status = model.VersionSigned
	}
	respondData(w, http.StatusOK, "signed")
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	c, ok := s.contractFrom(r)
	if !ok {
		respondError(w, http.StatusNotFound, "contract not found")
		return
	}
	versionNumber, err := strconv.Atoi(chi.URLParam(r, "versionNumber"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid version number")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if canned, ok := s.verifications[verificationKey(c.ID, versionNumber)]; ok {
		respondData(w, http.StatusOK, canned)
		return
	}

	found := false
	for i := range c.VersionHistory {
		if c.VersionHistory[i].VersionNumber == versionNumber {
			found = true
		}
	}
	if c.CurrentVersion != nil && c.CurrentVersion.VersionNumber == versionNumber {
		found = true
	}
	if !found {
		respondData(w, http.StatusOK, &model.VerificationResult{
			OverallSuccess: false,
			Message:        "version not found",
			VerifiedAt:     time.Now(),
			DBVerification: model.VerificationStep{
				Status:  model.StepDataNotFound,
				Details: fmt.Sprintf("no record for version %d", versionNumber),
			},
			BlockchainVerification: model.VerificationStep{
				Status:  model.StepNotChecked,
				Details: "skipped: database record missing",
			},
		})
		return
	}

	respondData(w, http.StatusOK, &model.VerificationResult{
		OverallSuccess: true,
		Message:        "integrity verified",
		VerifiedAt:     time.Now(),
		DBVerification: model.VerificationStep{
			Status:  model.StepSuccess,
			Details: "stored metadata matches the database record",
		},
		BlockchainVerification: model.VerificationStep{
			Status:  model.StepSuccess,
			Details: "database record matches the external chain entry",
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	var meta api.UploadRequest
	if err := json.Unmarshal([]byte(r.FormValue("data")), &meta); err != nil {
		respondError(w, http.StatusBadRequest, "invalid contract metadata")
		return
	}
	if strings.TrimSpace(meta.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()
	contents, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	participants := []model.Participant{{
		UserUUID: acc.user.UUID,
		Username: acc.user.Username,
		Email:    acc.user.Email,
		Role:     model.RoleInitiator,
	}}
	for _, id := range meta.ParticipantIDs {
		if !model.ValidIdentity(id) {
			respondError(w, http.StatusBadRequest, "invalid participant id: "+id)
			return
		}
		other, ok := s.byUUID[id]
		if !ok {
			respondError(w, http.StatusBadRequest, "unknown participant: "+id)
			return
		}
		participants = append(participants, model.Participant{
			UserUUID: other.user.UUID,
			Username: other.user.Username,
			Email:    other.user.Email,
			Role:     model.RoleCounterparty,
		})
	}

	s.nextID++
	contractID := s.nextID
	s.nextID++
	versionID := s.nextID

	sum := sha256.Sum256(contents)
	filePath := fmt.Sprintf("contracts/%d/v1/%s", contractID, header.Filename)
	s.files[filePath] = contents

	now := time.Now()
	version := model.Version{
		ID:            versionID,
		VersionNumber: 1,
		FilePath:      filePath,
		FileHash:      hex.EncodeToString(sum[:]),
		Status:        model.VersionPendingSignature,
		CreatedAt:     now,
		Signatures:    []model.Signature{},
	}
	s.contracts[contractID] = &model.Contract{
		ID:             contractID,
		Title:          meta.Title,
		Description:    meta.Description,
		Status:         model.ContractOpen,
		CreatedAt:      now,
		CreatedBy:      acc.user,
		Participants:   participants,
		CurrentVersion: &version,
		VersionHistory: []model.Version{version},
	}

	respondData(w, http.StatusOK, strconv.FormatInt(contractID, 10))
}

func (s *Server) handleVersionFileURL(w http.ResponseWriter, r *http.Request) {
	versionID, err := strconv.ParseInt(chi.URLParam(r, "versionID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid version id")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.CurrentVersion != nil && c.CurrentVersion.ID == versionID {
			respondData(w, http.StatusOK, "/api/contracts/files/"+c.CurrentVersion.FilePath)
			return
		}
	}
	respondError(w, http.StatusNotFound, "version not found")
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(filePath); err == nil {
		filePath = unescaped
	}

	s.mu.Lock()
	contents, ok := s.files[filePath]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(contents)
}

// --- helpers -----------------------------------------------------------

func (s *Server) involves(c *model.Contract, u *model.User) bool {
	if c.CreatedBy.ID == u.ID {
		return true
	}
	for i := range c.Participants {
		if c.Participants[i].UserUUID == u.UUID {
			return true
		}
	}
	return false
}

func (s *Server) contractFrom(r *http.Request) (*model.Contract, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "contractID"), 10, 64)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	return c, ok
}

func summarize(c *model.Contract) model.ContractSummary {
	summary := model.ContractSummary{
		ID:                c.ID,
		Title:             c.Title,
		Description:       c.Description,
		CreatedByUserName: c.CreatedBy.Username,
		Status:            c.Status,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.CurrentVersion != nil {
		n := c.CurrentVersion.VersionNumber
		id := c.CurrentVersion.ID
		summary.CurrentVersionNumber = &n
		summary.CurrentVersionID = &id
	}
	return summary
}

func signatureHash(userUUID, fileHash string, signedAt time.Time) string {
	sum := sha256.Sum256([]byte(userUUID + fileHash + signedAt.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
	})
}
