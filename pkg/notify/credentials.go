package notify

import "strings"

// CredentialSource resolves the per-project credential sent with each
// subscription request.
type CredentialSource interface {
	Credential(projectID string) (string, bool)
}

// StaticCredentials maps project ids to credentials.
type StaticCredentials map[string]string

var _ CredentialSource = StaticCredentials(nil)

// Credential returns the credential for projectID. Blank values count as
// missing.
func (c StaticCredentials) Credential(projectID string) (string, bool) {
	token, ok := c[strings.TrimSpace(projectID)]
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}

	return token, true
}
