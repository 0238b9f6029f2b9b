package postgres

// Schema is the full DDL for the verification core. Applied by deploy
// tooling and by the integration test containers.
const Schema = `
CREATE TABLE IF NOT EXISTS onboarding_sessions (
    id          UUID PRIMARY KEY,
    user_id     UUID,
    draft_id    UUID,
    step        INT NOT NULL DEFAULT 1,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS identity_drafts (
    id                   UUID PRIMARY KEY,
    session_id           UUID NOT NULL,
    user_id              UUID,
    document_id          UUID NOT NULL,
    document_processed   BOOLEAN NOT NULL DEFAULT FALSE,
    is_document_valid    BOOLEAN NOT NULL DEFAULT FALSE,
    is_duplicate         BOOLEAN NOT NULL DEFAULT FALSE,
    document_type        TEXT NOT NULL DEFAULT '',
    issuing_country      TEXT NOT NULL DEFAULT '',
    document_hash        TEXT,
    document_hash_field  TEXT,
    name_commitment      TEXT NOT NULL DEFAULT '',
    encrypted_user_salt  TEXT NOT NULL DEFAULT '',
    birth_year           INT NOT NULL DEFAULT 0,
    birth_year_offset    INT NOT NULL DEFAULT 0,
    expiry_date          BIGINT NOT NULL DEFAULT 0,
    nationality_code     TEXT NOT NULL DEFAULT '',
    nationality_numeric  INT NOT NULL DEFAULT 0,
    country_numeric      INT NOT NULL DEFAULT 0,
    confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
    encrypted_first_name TEXT NOT NULL DEFAULT '',
    liveness_checked     BOOLEAN NOT NULL DEFAULT FALSE,
    antispoof_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
    liveness_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    face_match_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
    liveness_passed      BOOLEAN NOT NULL DEFAULT FALSE,
    face_match_passed    BOOLEAN NOT NULL DEFAULT FALSE,
    issues               TEXT[] NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS identity_drafts_session_idx ON identity_drafts (session_id);

CREATE TABLE IF NOT EXISTS verification_jobs (
    id            UUID PRIMARY KEY,
    draft_id      UUID NOT NULL,
    user_id       UUID NOT NULL,
    fhe_key_id    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'queued',
    attempts      INT NOT NULL DEFAULT 0,
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ,
    result        JSONB,
    error_message TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS verification_jobs_draft_idx ON verification_jobs (draft_id);

CREATE TABLE IF NOT EXISTS identity_documents (
    id                   UUID PRIMARY KEY,
    user_id              UUID NOT NULL,
    document_type        TEXT NOT NULL DEFAULT '',
    issuing_country      TEXT NOT NULL DEFAULT '',
    document_hash        TEXT,
    name_commitment      TEXT NOT NULL DEFAULT '',
    encrypted_user_salt  TEXT NOT NULL DEFAULT '',
    birth_year_offset    INT NOT NULL DEFAULT 0,
    encrypted_first_name TEXT NOT NULL DEFAULT '',
    confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
    status               TEXT NOT NULL,
    verified_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS identity_documents_hash_idx ON identity_documents (document_hash) WHERE document_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS identity_bundles (
    user_id        UUID PRIMARY KEY,
    status         TEXT NOT NULL,
    issuer_id      TEXT NOT NULL DEFAULT '',
    policy_version TEXT NOT NULL DEFAULT '',
    fhe_key_id     TEXT NOT NULL DEFAULT '',
    fhe_status     TEXT NOT NULL DEFAULT 'pending',
    fhe_error      TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS encrypted_attributes (
    id             UUID PRIMARY KEY,
    user_id        UUID NOT NULL,
    source         TEXT NOT NULL DEFAULT '',
    attribute_type TEXT NOT NULL,
    ciphertext     TEXT NOT NULL,
    key_id         TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS signed_claims (
    id          UUID PRIMARY KEY,
    user_id     UUID NOT NULL,
    document_id UUID NOT NULL,
    claim_type  TEXT NOT NULL,
    payload     JSONB NOT NULL,
    signature   TEXT NOT NULL,
    issued_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
