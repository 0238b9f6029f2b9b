package handler_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	challengesvc "attesto/internal/challenge"
	challengehandler "attesto/internal/challenge/handler"
	challengestore "attesto/internal/challenge/store"
	"attesto/internal/clients/biometric"
	"attesto/internal/clients/fhe"
	"attesto/internal/clients/ocr"
	"attesto/internal/crypto"
	"attesto/internal/session"
	httptransport "attesto/internal/transport/http"
	"attesto/internal/verification/finalize"
	"attesto/internal/verification/handler"
	"attesto/internal/verification/intake"
	"attesto/internal/verification/liveness"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	id "attesto/pkg/domain"
)

type fakeOCR struct{ result *ocr.Result }

func (f *fakeOCR) ProcessDocument(ctx context.Context, image []byte, priorSalt string) (*ocr.Result, error) {
	return f.result, nil
}

type fakeDetector struct{ face biometric.Face }

func (f *fakeDetector) Detect(ctx context.Context, image []byte) ([]biometric.Face, error) {
	return []biometric.Face{f.face}, nil
}

func (f *fakeDetector) Crop(ctx context.Context, image []byte, box biometric.Box) ([]biometric.Face, error) {
	return []biometric.Face{f.face}, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, payload json.RawMessage) (string, error) {
	return "sig", nil
}

type fakeFHE struct{}

func (fakeFHE) EncryptBatch(ctx context.Context, keyID string, fields fhe.BatchFields, requestID string) (*fhe.BatchCiphertexts, error) {
	ct := "ciphertext"
	return &fhe.BatchCiphertexts{BirthYearOffset: &ct}, nil
}

type env struct {
	router http.Handler
	userID id.UserID
	stores *store.Memory
}

// newEnv builds the HTTP surface exactly as the server assembles it: the
// production router and middleware over memory stores and fake collaborators.
// Identity arrives the way the upstream auth gateway delivers it, as a
// trusted user header.
func newEnv(t *testing.T) *env {
	t.Helper()

	stores := store.NewMemory()
	sessions := session.NewMemoryStore()
	sealer, err := crypto.NewSealer(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)

	extraction := &ocr.Result{
		DocumentNumber:  "X123456",
		FirstName:       "Ada",
		DateOfBirth:     "1990-05-20",
		ExpirationDate:  "2030-01-01",
		NationalityCode: "DEU",
		DocumentType:    "passport",
		IssuingCountry:  "DEU",
		Confidence:      0.95,
		Commitments: &ocr.Commitments{
			DocumentHash:   hex.EncodeToString(bytes.Repeat([]byte{0xab}, 32)),
			NameCommitment: "commit",
			UserSalt:       "salt",
		},
	}
	face := biometric.Face{
		Box:            biometric.Box{Width: 100, Height: 100},
		Embedding:      []float64{1, 0, 0},
		AntispoofScore: 0.9,
		LivenessScore:  0.9,
	}

	intakeSvc, err := intake.New(stores.Drafts, stores.Documents, sessions, &fakeOCR{result: extraction}, sealer, nil)
	require.NoError(t, err)
	livenessSvc, err := liveness.New(stores.Drafts, sessions, &fakeDetector{face: face})
	require.NoError(t, err)
	finalizeSvc, err := finalize.New(finalize.StoresFromMemory(stores), fakeSigner{}, fakeFHE{})
	require.NoError(t, err)

	challengeSvc, err := challengesvc.New(challengestore.NewMemoryStore(), time.Minute)
	require.NoError(t, err)

	router := httptransport.NewRouter(
		handler.New(intakeSvc, livenessSvc, finalizeSvc, sessions, nil),
		challengehandler.New(challengeSvc, nil),
	)

	return &env{router: router, userID: id.NewUserID(), stores: stores}
}

func (e *env) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	return e.doAs(t, method, path, sessionID, e.userID.String(), body)
}

func (e *env) doAs(t *testing.T, method, path, sessionID, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(httptransport.SessionHeader, sessionID)
	}
	if userID != "" {
		req.Header.Set(httptransport.UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestVerificationFlow(t *testing.T) {
	e := newEnv(t)

	// Document intake starts a fresh session.
	rec := e.do(t, http.MethodPost, "/verification/document", "", map[string]any{
		"image": []byte("document image"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type docResponse struct {
		SessionID       string `json:"sessionId"`
		DraftID         string `json:"draftId"`
		IsDocumentValid bool   `json:"isDocumentValid"`
	}
	doc := decodeBody[docResponse](t, rec)
	require.NotEmpty(t, doc.SessionID)
	require.NotEmpty(t, doc.DraftID)
	assert.True(t, doc.IsDocumentValid)

	// Liveness against the same session.
	rec = e.do(t, http.MethodPost, "/verification/liveness", doc.SessionID, map[string]any{
		"draftId":       doc.DraftID,
		"documentImage": []byte("doc"),
		"selfieImage":   []byte("selfie"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type livenessResponse struct {
		LivenessPassed  bool `json:"livenessPassed"`
		FaceMatchPassed bool `json:"faceMatchPassed"`
	}
	live := decodeBody[livenessResponse](t, rec)
	assert.True(t, live.LivenessPassed)
	assert.True(t, live.FaceMatchPassed)

	// Finalize asynchronously.
	rec = e.do(t, http.MethodPost, "/verification/finalize", doc.SessionID, map[string]any{
		"draftId":  doc.DraftID,
		"fheKeyId": "key-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	type statusResponse struct {
		JobID  string            `json:"jobId"`
		Status models.JobStatus  `json:"status"`
		Result *models.JobResult `json:"result"`
	}
	accepted := decodeBody[statusResponse](t, rec)
	require.NotEmpty(t, accepted.JobID)

	// Poll until the job reaches a terminal state.
	var final statusResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = e.do(t, http.MethodGet, "/verification/finalize/"+accepted.JobID, doc.SessionID, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		final = decodeBody[statusResponse](t, rec)
		if final.Status == models.JobComplete || final.Status == models.JobError {
			break
		}
		require.True(t, time.Now().Before(deadline), "job did not finish in time")
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, models.JobComplete, final.Status)
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.Verified)
	assert.Equal(t, models.FheComplete, final.Result.FheStatus)
	assert.ElementsMatch(t, []string{"ocr_result", "liveness_score", "face_match_score"}, final.Result.Claims)

	// The bundle rolled up for the user.
	bundle, err := e.stores.Bundles.FindByUser(context.Background(), e.userID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleVerified, bundle.Status)
}

// TestFinalizeRequiresUpstreamIdentity drives the flow without the trusted
// user header on the finalize leg: the earlier legs succeed anonymously, the
// finalize leg must be rejected.
func TestFinalizeRequiresUpstreamIdentity(t *testing.T) {
	e := newEnv(t)

	rec := e.doAs(t, http.MethodPost, "/verification/document", "", "", map[string]any{
		"image": []byte("document image"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type docResponse struct {
		SessionID string `json:"sessionId"`
		DraftID   string `json:"draftId"`
	}
	doc := decodeBody[docResponse](t, rec)

	rec = e.doAs(t, http.MethodPost, "/verification/liveness", doc.SessionID, "", map[string]any{
		"draftId":       doc.DraftID,
		"documentImage": []byte("doc"),
		"selfieImage":   []byte("selfie"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.doAs(t, http.MethodPost, "/verification/finalize", doc.SessionID, "", map[string]any{
		"draftId":  doc.DraftID,
		"fheKeyId": "key-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/verification/finalize", doc.SessionID, map[string]any{
		"draftId":  doc.DraftID,
		"fheKeyId": "key-1",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestLivenessRequiresSession(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/verification/liveness", "", map[string]any{
		"draftId":       id.NewDraftID().String(),
		"documentImage": []byte("doc"),
		"selfieImage":   []byte("selfie"),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownSessionRejected(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/verification/liveness", id.NewSessionID().String(), map[string]any{
		"draftId":       id.NewDraftID().String(),
		"documentImage": []byte("doc"),
		"selfieImage":   []byte("selfie"),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/verification/document", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueChallenge(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/proof/challenge", "", map[string]any{
		"circuitType": "age_proof",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type challengeResponse struct {
		Nonce       string `json:"nonce"`
		CircuitType string `json:"circuitType"`
	}
	ch := decodeBody[challengeResponse](t, rec)
	assert.Len(t, ch.Nonce, 64)
	assert.Equal(t, "age_proof", ch.CircuitType)
}

func TestIssueChallengeUnknownCircuit(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/proof/challenge", "", map[string]any{
		"circuitType": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
