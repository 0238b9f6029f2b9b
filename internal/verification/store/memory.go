package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"attesto/internal/verification/models"
	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
)

// Memory bundles in-memory implementations of every store interface. Used by
// unit tests and single-process deployments.
type Memory struct {
	Drafts     *MemoryDrafts
	Jobs       *MemoryJobs
	Documents  *MemoryDocuments
	Bundles    *MemoryBundles
	Claims     *MemoryClaims
	Attributes *MemoryAttributes
}

func NewMemory() *Memory {
	return &Memory{
		Drafts:     NewMemoryDrafts(),
		Jobs:       NewMemoryJobs(),
		Documents:  NewMemoryDocuments(),
		Bundles:    NewMemoryBundles(),
		Claims:     NewMemoryClaims(),
		Attributes: NewMemoryAttributes(),
	}
}

// MemoryDrafts implements DraftStore with a mutex-guarded map.
type MemoryDrafts struct {
	mu     sync.RWMutex
	drafts map[id.DraftID]models.IdentityDraft
}

func NewMemoryDrafts() *MemoryDrafts {
	return &MemoryDrafts{drafts: make(map[id.DraftID]models.IdentityDraft)}
}

func (m *MemoryDrafts) Save(ctx context.Context, draft *models.IdentityDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[draft.ID] = copyDraft(draft)
	return nil
}

func (m *MemoryDrafts) FindByID(ctx context.Context, draftID id.DraftID) (*models.IdentityDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	draft, ok := m.drafts[draftID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := copyDraft(&draft)
	return &copied, nil
}

func (m *MemoryDrafts) FindBySession(ctx context.Context, sessionID id.SessionID) (*models.IdentityDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, draft := range m.drafts {
		if draft.SessionID == sessionID {
			copied := copyDraft(&draft)
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func copyDraft(draft *models.IdentityDraft) models.IdentityDraft {
	copied := *draft
	copied.Issues = append([]models.Issue(nil), draft.Issues...)
	return copied
}

// MemoryJobs implements JobStore. Claim holds the write lock across the
// status check and transition, which is the in-process equivalent of the
// guarded conditional update.
type MemoryJobs struct {
	mu   sync.RWMutex
	jobs map[id.JobID]models.VerificationJob
}

func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[id.JobID]models.VerificationJob)}
}

func (m *MemoryJobs) Create(ctx context.Context, job *models.VerificationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return sentinel.ErrConflict
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryJobs) FindByID(ctx context.Context, jobID id.JobID) (*models.VerificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (m *MemoryJobs) FindActiveByDraft(ctx context.Context, draftID id.DraftID) (*models.VerificationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		if job.DraftID == draftID && job.Status.Active() {
			copied := job
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *MemoryJobs) Claim(ctx context.Context, jobID id.JobID, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if job.Status != models.JobQueued {
		return false, nil
	}
	job.Status = models.JobRunning
	job.StartedAt = &startedAt
	job.Attempts++
	m.jobs[jobID] = job
	return true, nil
}

func (m *MemoryJobs) Finish(ctx context.Context, jobID id.JobID, status models.JobStatus, result json.RawMessage, errMsg string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return sentinel.ErrNotFound
	}
	job.Status = status
	job.Result = result
	job.ErrorMessage = errMsg
	job.FinishedAt = &finishedAt
	m.jobs[jobID] = job
	return nil
}

// MemoryDocuments implements DocumentStore.
type MemoryDocuments struct {
	mu        sync.RWMutex
	documents map[id.DocumentID]models.IdentityDocument
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{documents: make(map[id.DocumentID]models.IdentityDocument)}
}

func (m *MemoryDocuments) Create(ctx context.Context, doc *models.IdentityDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return sentinel.ErrConflict
	}
	m.documents[doc.ID] = *doc
	return nil
}

func (m *MemoryDocuments) FindByID(ctx context.Context, docID id.DocumentID) (*models.IdentityDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[docID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := doc
	return &copied, nil
}

func (m *MemoryDocuments) HashExists(ctx context.Context, hash string, excludeID id.DocumentID) (bool, error) {
	if hash == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.documents {
		if doc.DocumentHash == hash && doc.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

// MemoryBundles implements BundleStore.
type MemoryBundles struct {
	mu      sync.RWMutex
	bundles map[id.UserID]models.IdentityBundle
}

func NewMemoryBundles() *MemoryBundles {
	return &MemoryBundles{bundles: make(map[id.UserID]models.IdentityBundle)}
}

func (m *MemoryBundles) Upsert(ctx context.Context, bundle *models.IdentityBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bundle.UserID] = *bundle
	return nil
}

func (m *MemoryBundles) FindByUser(ctx context.Context, userID id.UserID) (*models.IdentityBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle, ok := m.bundles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := bundle
	return &copied, nil
}

// MemoryClaims implements ClaimStore as an append-only slice.
type MemoryClaims struct {
	mu     sync.RWMutex
	claims []models.SignedClaim
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{}
}

func (m *MemoryClaims) Append(ctx context.Context, claim *models.SignedClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims = append(m.claims, *claim)
	return nil
}

func (m *MemoryClaims) ListByUser(ctx context.Context, userID id.UserID) ([]models.SignedClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SignedClaim
	for _, claim := range m.claims {
		if claim.UserID == userID {
			out = append(out, claim)
		}
	}
	return out, nil
}

// MemoryAttributes implements AttributeStore as an append-only slice.
type MemoryAttributes struct {
	mu         sync.RWMutex
	attributes []models.EncryptedAttribute
}

func NewMemoryAttributes() *MemoryAttributes {
	return &MemoryAttributes{}
}

func (m *MemoryAttributes) Append(ctx context.Context, attr *models.EncryptedAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributes = append(m.attributes, *attr)
	return nil
}

func (m *MemoryAttributes) ListByUser(ctx context.Context, userID id.UserID) ([]models.EncryptedAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.EncryptedAttribute
	for _, attr := range m.attributes {
		if attr.UserID == userID {
			out = append(out, attr)
		}
	}
	return out, nil
}
