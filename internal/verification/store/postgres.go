package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"attesto/internal/verification/models"
	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
)

// Postgres bundles PostgreSQL implementations of every store interface.
type Postgres struct {
	Drafts     *PostgresDrafts
	Jobs       *PostgresJobs
	Documents  *PostgresDocuments
	Bundles    *PostgresBundles
	Claims     *PostgresClaims
	Attributes *PostgresAttributes
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		Drafts:     &PostgresDrafts{db: db},
		Jobs:       &PostgresJobs{db: db},
		Documents:  &PostgresDocuments{db: db},
		Bundles:    &PostgresBundles{db: db},
		Claims:     &PostgresClaims{db: db},
		Attributes: &PostgresAttributes{db: db},
	}
}

// PostgresDrafts implements DraftStore.
type PostgresDrafts struct {
	db *sql.DB
}

func (s *PostgresDrafts) Save(ctx context.Context, d *models.IdentityDraft) error {
	query := `
		INSERT INTO identity_drafts (
			id, session_id, user_id, document_id,
			document_processed, is_document_valid, is_duplicate,
			document_type, issuing_country, document_hash, document_hash_field,
			name_commitment, encrypted_user_salt,
			birth_year, birth_year_offset, expiry_date,
			nationality_code, nationality_numeric, country_numeric,
			confidence, encrypted_first_name,
			liveness_checked, antispoof_score, liveness_score, face_match_score,
			liveness_passed, face_match_passed, issues,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			now(), now()
		)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			document_processed = EXCLUDED.document_processed,
			is_document_valid = EXCLUDED.is_document_valid,
			is_duplicate = EXCLUDED.is_duplicate,
			document_type = EXCLUDED.document_type,
			issuing_country = EXCLUDED.issuing_country,
			document_hash = EXCLUDED.document_hash,
			document_hash_field = EXCLUDED.document_hash_field,
			name_commitment = EXCLUDED.name_commitment,
			encrypted_user_salt = EXCLUDED.encrypted_user_salt,
			birth_year = EXCLUDED.birth_year,
			birth_year_offset = EXCLUDED.birth_year_offset,
			expiry_date = EXCLUDED.expiry_date,
			nationality_code = EXCLUDED.nationality_code,
			nationality_numeric = EXCLUDED.nationality_numeric,
			country_numeric = EXCLUDED.country_numeric,
			confidence = EXCLUDED.confidence,
			encrypted_first_name = EXCLUDED.encrypted_first_name,
			liveness_checked = EXCLUDED.liveness_checked,
			antispoof_score = EXCLUDED.antispoof_score,
			liveness_score = EXCLUDED.liveness_score,
			face_match_score = EXCLUDED.face_match_score,
			liveness_passed = EXCLUDED.liveness_passed,
			face_match_passed = EXCLUDED.face_match_passed,
			issues = EXCLUDED.issues,
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(d.ID), uuid.UUID(d.SessionID), nullableUUID(uuid.UUID(d.UserID)), uuid.UUID(d.DocumentID),
		d.DocumentProcessed, d.IsDocumentValid, d.IsDuplicateDocument,
		d.DocumentType, d.IssuingCountry, nullableString(d.DocumentHash), nullableString(d.DocumentHashField),
		d.NameCommitment, d.EncryptedUserSalt,
		d.BirthYear, d.BirthYearOffset, d.ExpiryDate,
		d.NationalityCode, d.NationalityNum, d.CountryNum,
		d.Confidence, d.EncryptedFirstName,
		d.LivenessChecked, d.AntispoofScore, d.LivenessScore, d.FaceMatchScore,
		d.LivenessPassed, d.FaceMatchPassed, pq.Array(models.Strings(d.Issues)),
	)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

const draftColumns = `
	id, session_id, user_id, document_id,
	document_processed, is_document_valid, is_duplicate,
	document_type, issuing_country, document_hash, document_hash_field,
	name_commitment, encrypted_user_salt,
	birth_year, birth_year_offset, expiry_date,
	nationality_code, nationality_numeric, country_numeric,
	confidence, encrypted_first_name,
	liveness_checked, antispoof_score, liveness_score, face_match_score,
	liveness_passed, face_match_passed, issues,
	created_at, updated_at
`

func (s *PostgresDrafts) FindByID(ctx context.Context, draftID id.DraftID) (*models.IdentityDraft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM identity_drafts WHERE id = $1`, uuid.UUID(draftID))
	return scanDraft(row)
}

func (s *PostgresDrafts) FindBySession(ctx context.Context, sessionID id.SessionID) (*models.IdentityDraft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM identity_drafts WHERE session_id = $1`, uuid.UUID(sessionID))
	return scanDraft(row)
}

func scanDraft(row *sql.Row) (*models.IdentityDraft, error) {
	var (
		d                     models.IdentityDraft
		draftID, sessID, docID uuid.UUID
		userID                uuid.NullUUID
		docHash, hashField    sql.NullString
		issues                []string
	)
	err := row.Scan(
		&draftID, &sessID, &userID, &docID,
		&d.DocumentProcessed, &d.IsDocumentValid, &d.IsDuplicateDocument,
		&d.DocumentType, &d.IssuingCountry, &docHash, &hashField,
		&d.NameCommitment, &d.EncryptedUserSalt,
		&d.BirthYear, &d.BirthYearOffset, &d.ExpiryDate,
		&d.NationalityCode, &d.NationalityNum, &d.CountryNum,
		&d.Confidence, &d.EncryptedFirstName,
		&d.LivenessChecked, &d.AntispoofScore, &d.LivenessScore, &d.FaceMatchScore,
		&d.LivenessPassed, &d.FaceMatchPassed, pq.Array(&issues),
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	d.ID = id.DraftID(draftID)
	d.SessionID = id.SessionID(sessID)
	d.UserID = id.UserID(userID.UUID)
	d.DocumentID = id.DocumentID(docID)
	d.DocumentHash = docHash.String
	d.DocumentHashField = hashField.String
	d.Issues = models.IssuesFromStrings(issues)
	return &d, nil
}

// PostgresJobs implements JobStore. Claim relies on the conditional UPDATE
// so only one worker per job id ever observes rows affected = 1.
type PostgresJobs struct {
	db *sql.DB
}

func (s *PostgresJobs) Create(ctx context.Context, job *models.VerificationJob) error {
	query := `
		INSERT INTO verification_jobs (id, draft_id, user_id, fhe_key_id, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(job.ID), uuid.UUID(job.DraftID), uuid.UUID(job.UserID),
		job.FHEKeyID, string(job.Status), job.Attempts)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

const jobColumns = `id, draft_id, user_id, fhe_key_id, status, attempts, started_at, finished_at, result, error_message, created_at`

func (s *PostgresJobs) FindByID(ctx context.Context, jobID id.JobID) (*models.VerificationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM verification_jobs WHERE id = $1`, uuid.UUID(jobID))
	return scanJob(row)
}

func (s *PostgresJobs) FindActiveByDraft(ctx context.Context, draftID id.DraftID) (*models.VerificationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM verification_jobs
		 WHERE draft_id = $1 AND status IN ('queued', 'running')
		 ORDER BY created_at DESC LIMIT 1`, uuid.UUID(draftID))
	return scanJob(row)
}

func scanJob(row *sql.Row) (*models.VerificationJob, error) {
	var (
		job                  models.VerificationJob
		jobID, draftID       uuid.UUID
		userID               uuid.UUID
		status               string
		startedAt, finished  sql.NullTime
		result               []byte
	)
	err := row.Scan(&jobID, &draftID, &userID, &job.FHEKeyID, &status, &job.Attempts,
		&startedAt, &finished, &result, &job.ErrorMessage, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ID = id.JobID(jobID)
	job.DraftID = id.DraftID(draftID)
	job.UserID = id.UserID(userID)
	job.Status = models.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	job.Result = result
	return &job, nil
}

func (s *PostgresJobs) Claim(ctx context.Context, jobID id.JobID, startedAt time.Time) (bool, error) {
	query := `
		UPDATE verification_jobs
		SET status = 'running', started_at = $2, attempts = attempts + 1
		WHERE id = $1 AND status = 'queued'
	`
	res, err := s.db.ExecContext(ctx, query, uuid.UUID(jobID), startedAt)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresJobs) Finish(ctx context.Context, jobID id.JobID, status models.JobStatus, result json.RawMessage, errMsg string, finishedAt time.Time) error {
	query := `
		UPDATE verification_jobs
		SET status = $2, result = $3, error_message = $4, finished_at = $5
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(jobID), string(status), nullableBytes(result), errMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// PostgresDocuments implements DocumentStore.
type PostgresDocuments struct {
	db *sql.DB
}

func (s *PostgresDocuments) Create(ctx context.Context, doc *models.IdentityDocument) error {
	query := `
		INSERT INTO identity_documents (
			id, user_id, document_type, issuing_country, document_hash,
			name_commitment, encrypted_user_salt, birth_year_offset,
			encrypted_first_name, confidence, status, verified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(doc.ID), uuid.UUID(doc.UserID), doc.DocumentType, doc.IssuingCountry,
		nullableString(doc.DocumentHash), doc.NameCommitment, doc.EncryptedUserSalt,
		doc.BirthYearOffset, doc.EncryptedFirstName, doc.Confidence,
		string(doc.Status), doc.VerifiedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresDocuments) FindByID(ctx context.Context, docID id.DocumentID) (*models.IdentityDocument, error) {
	query := `
		SELECT id, user_id, document_type, issuing_country, document_hash,
		       name_commitment, encrypted_user_salt, birth_year_offset,
		       encrypted_first_name, confidence, status, verified_at
		FROM identity_documents WHERE id = $1
	`
	var (
		doc          models.IdentityDocument
		rawID, owner uuid.UUID
		hash         sql.NullString
		status       string
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(docID)).Scan(
		&rawID, &owner, &doc.DocumentType, &doc.IssuingCountry, &hash,
		&doc.NameCommitment, &doc.EncryptedUserSalt, &doc.BirthYearOffset,
		&doc.EncryptedFirstName, &doc.Confidence, &status, &doc.VerifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	doc.ID = id.DocumentID(rawID)
	doc.UserID = id.UserID(owner)
	doc.DocumentHash = hash.String
	doc.Status = models.DocumentStatus(status)
	return &doc, nil
}

func (s *PostgresDocuments) HashExists(ctx context.Context, hash string, excludeID id.DocumentID) (bool, error) {
	if hash == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identity_documents WHERE document_hash = $1 AND id <> $2)`,
		hash, uuid.UUID(excludeID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document hash: %w", err)
	}
	return exists, nil
}

// PostgresBundles implements BundleStore.
type PostgresBundles struct {
	db *sql.DB
}

func (s *PostgresBundles) Upsert(ctx context.Context, b *models.IdentityBundle) error {
	query := `
		INSERT INTO identity_bundles (user_id, status, issuer_id, policy_version, fhe_key_id, fhe_status, fhe_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			issuer_id = EXCLUDED.issuer_id,
			policy_version = EXCLUDED.policy_version,
			fhe_key_id = EXCLUDED.fhe_key_id,
			fhe_status = EXCLUDED.fhe_status,
			fhe_error = EXCLUDED.fhe_error,
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(b.UserID), string(b.Status), b.IssuerID, b.PolicyVersion,
		b.FHEKeyID, string(b.FheStatus), b.FheError)
	if err != nil {
		return fmt.Errorf("upsert bundle: %w", err)
	}
	return nil
}

func (s *PostgresBundles) FindByUser(ctx context.Context, userID id.UserID) (*models.IdentityBundle, error) {
	query := `
		SELECT user_id, status, issuer_id, policy_version, fhe_key_id, fhe_status, fhe_error, updated_at
		FROM identity_bundles WHERE user_id = $1
	`
	var (
		b      models.IdentityBundle
		owner  uuid.UUID
		status string
		fheSt  string
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(userID)).Scan(
		&owner, &status, &b.IssuerID, &b.PolicyVersion, &b.FHEKeyID, &fheSt, &b.FheError, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find bundle: %w", err)
	}
	b.UserID = id.UserID(owner)
	b.Status = models.BundleStatus(status)
	b.FheStatus = models.FheStatus(fheSt)
	return &b, nil
}

// PostgresClaims implements ClaimStore.
type PostgresClaims struct {
	db *sql.DB
}

func (s *PostgresClaims) Append(ctx context.Context, claim *models.SignedClaim) error {
	query := `
		INSERT INTO signed_claims (id, user_id, document_id, claim_type, payload, signature, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		claim.ID, uuid.UUID(claim.UserID), uuid.UUID(claim.DocumentID),
		string(claim.ClaimType), []byte(claim.Payload), claim.Signature, claim.IssuedAt)
	if err != nil {
		return fmt.Errorf("append signed claim: %w", err)
	}
	return nil
}

func (s *PostgresClaims) ListByUser(ctx context.Context, userID id.UserID) ([]models.SignedClaim, error) {
	query := `
		SELECT id, user_id, document_id, claim_type, payload, signature, issued_at
		FROM signed_claims WHERE user_id = $1 ORDER BY issued_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list signed claims: %w", err)
	}
	defer rows.Close()

	var out []models.SignedClaim
	for rows.Next() {
		var (
			claim         models.SignedClaim
			owner, docID  uuid.UUID
			claimType     string
			payload       []byte
		)
		if err := rows.Scan(&claim.ID, &owner, &docID, &claimType, &payload, &claim.Signature, &claim.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan signed claim: %w", err)
		}
		claim.UserID = id.UserID(owner)
		claim.DocumentID = id.DocumentID(docID)
		claim.ClaimType = models.ClaimType(claimType)
		claim.Payload = payload
		out = append(out, claim)
	}
	return out, rows.Err()
}

// PostgresAttributes implements AttributeStore.
type PostgresAttributes struct {
	db *sql.DB
}

func (s *PostgresAttributes) Append(ctx context.Context, attr *models.EncryptedAttribute) error {
	query := `
		INSERT INTO encrypted_attributes (id, user_id, source, attribute_type, ciphertext, key_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		attr.ID, uuid.UUID(attr.UserID), attr.Source, string(attr.AttributeType),
		attr.Ciphertext, attr.KeyID, attr.CreatedAt)
	if err != nil {
		return fmt.Errorf("append encrypted attribute: %w", err)
	}
	return nil
}

func (s *PostgresAttributes) ListByUser(ctx context.Context, userID id.UserID) ([]models.EncryptedAttribute, error) {
	query := `
		SELECT id, user_id, source, attribute_type, ciphertext, key_id, created_at
		FROM encrypted_attributes WHERE user_id = $1 ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list encrypted attributes: %w", err)
	}
	defer rows.Close()

	var out []models.EncryptedAttribute
	for rows.Next() {
		var (
			attr     models.EncryptedAttribute
			owner    uuid.UUID
			attrType string
		)
		if err := rows.Scan(&attr.ID, &owner, &attr.Source, &attrType, &attr.Ciphertext, &attr.KeyID, &attr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan encrypted attribute: %w", err)
		}
		attr.UserID = id.UserID(owner)
		attr.AttributeType = models.AttributeType(attrType)
		out = append(out, attr)
	}
	return out, rows.Err()
}

func nullableUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
