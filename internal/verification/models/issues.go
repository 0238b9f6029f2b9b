package models

// Issue is a machine-readable code for a degraded-result condition. Issues
// accumulate on drafts and job results; they never abort a pipeline run.
type Issue string

const (
	// Document intake
	IssueDocumentProcessingFailed Issue = "document_processing_failed"
	IssueDocumentHashFieldFailed  Issue = "document_hash_field_failed"
	IssueDuplicateDocument        Issue = "duplicate_document"

	// Biometric scoring
	IssueNoSelfieFace     Issue = "no_selfie_face"
	IssueNoDocumentFace   Issue = "no_document_face"
	IssueEmbeddingMissing Issue = "face_embedding_missing"

	// Finalization flag recomputation
	IssueDocumentNotProcessed Issue = "document_not_processed"
	IssueDocumentInvalid      Issue = "document_invalid"
	IssueLivenessFailed       Issue = "liveness_check_failed"
	IssueFaceMatchFailed      Issue = "face_match_failed"

	// Signed claims
	IssueOCRClaimFailed       Issue = "signed_ocr_claim_failed"
	IssueLivenessClaimFailed  Issue = "signed_liveness_claim_failed"
	IssueFaceMatchClaimFailed Issue = "signed_face_match_claim_failed"

	// FHE encryption
	IssueFHEKeyMissing         Issue = "fhe_key_missing"
	IssueFHEEncryptionFailed   Issue = "fhe_encryption_failed"
	IssueFHEServiceUnavailable Issue = "fhe_service_unavailable"
)

// Strings converts an issue list for wire and storage layers.
func Strings(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = string(issue)
	}
	return out
}

// IssuesFromStrings converts stored issue codes back into the typed form.
func IssuesFromStrings(raw []string) []Issue {
	out := make([]Issue, len(raw))
	for i, s := range raw {
		out[i] = Issue(s)
	}
	return out
}
