package domain

// ConsentState tracks whether the user has granted an application access to
// the shared memory log.
type ConsentState struct {
	Granted   bool   `json:"granted"`
	GrantedAt string `json:"granted_at,omitempty"`
	GrantedTo string `json:"granted_to,omitempty"` // app identity that asked
}
