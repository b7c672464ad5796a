package secrets

import "time"

// Secret represents an encrypted provider credential or PII encryption key
// scoped to a tenant.
type Secret struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	EncryptedValue []byte    `json:"encrypted_value"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Policy represents a provider/service allowed to read a given secret.
type Policy struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SecretName string    `json:"secret_name"`
	ServiceID  string    `json:"service_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditLog represents an audit log entry for secret operations.
type AuditLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SecretName   string    `json:"secret_name"`
	Action       string    `json:"action"`
	ServiceID    string    `json:"service_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
